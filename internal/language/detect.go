// Package language guesses the programming language of a code snippet.
package language

import (
	"github.com/alecthomas/chroma/v2/lexers"
)

// Unknown is returned when no heuristic scores confidently.
const Unknown = "Unknown"

// Detect returns a human-readable language name for the given source text.
// It never fails: anything the analysers cannot place comes back as Unknown.
func Detect(code string) string {
	if code == "" {
		return Unknown
	}
	lexer := lexers.Analyse(code)
	if lexer == nil {
		return Unknown
	}
	cfg := lexer.Config()
	if cfg == nil || cfg.Name == "" {
		return Unknown
	}
	return cfg.Name
}
