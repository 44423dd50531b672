package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sagehq/sage/internal/pipeline"
	"github.com/sagehq/sage/internal/prompt"
)

type codeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (s *Server) generate(task prompt.TaskKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeCodeRequest(w, r)
		if !ok {
			return
		}
		s.stream(w, r, task, req.Code, req.Language)
	}
}

// stream runs a task pipeline and forwards deltas as a chunked plain-text
// response. Once the 200 header is out, every failure is body text: a status
// change after partial content would corrupt the response.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, task prompt.TaskKind, code, lang string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := s.pipe.Run(r.Context(), task, code, lang, func(delta string) error {
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.Warn("task pipeline ended with error", "task", task, "error", err)
	}
}

func (s *Server) diagram(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCodeRequest(w, r)
	if !ok {
		return
	}

	diagram, err := s.pipe.Diagram(r.Context(), req.Code, req.Language)
	if err != nil {
		s.logger.Warn("diagram pipeline failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"diagram": diagram})
}

func (s *Server) voiceCommand(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription not configured")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	code := r.FormValue("code")
	if strings.TrimSpace(code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio upload")
		return
	}

	utterance, err := s.transcriber.Transcribe(r.Context(), header.Filename, audio)
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "could not transcribe audio")
		return
	}

	task, err := pipeline.Intent(utterance)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":     "unrecognized intent",
			"utterance": utterance,
		})
		return
	}

	s.stream(w, r, task, code, "")
}

func (s *Server) decodeCodeRequest(w http.ResponseWriter, r *http.Request) (codeRequest, bool) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return codeRequest{}, false
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return codeRequest{}, false
	}
	return req, true
}
