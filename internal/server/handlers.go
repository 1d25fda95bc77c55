package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatgraph/chatgraph/internal/domain"
)

// chatRequest is the submission body shared by direct and webhook mode.
type chatRequest struct {
	SessionID      string         `json:"session_id"`
	Message        string         `json:"message"`
	ProviderConfig providerConfig `json:"provider_config"`
	// CallbackURL is required in webhook mode only.
	CallbackURL string `json:"callback_url,omitempty"`
}

type providerConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

func (pc providerConfig) toParams() domain.ProviderParams {
	return domain.ProviderParams{
		Provider:    pc.Provider,
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
	}
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type submitResponse struct {
	TrackID string `json:"track_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	AddLogField(r.Context(), "session_id", req.SessionID)

	result, err := s.pipeline.Run(r.Context(), req.SessionID, req.Message, req.ProviderConfig.toParams())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  result.Response,
		SessionID: req.SessionID,
	})
}

func (s *Server) handleWebhookSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	AddLogField(r.Context(), "session_id", req.SessionID)

	trackID, err := s.webhooks.Submit(r.Context(), req.SessionID, req.Message, req.CallbackURL, req.ProviderConfig.toParams())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "track_id", trackID)

	writeJSON(w, http.StatusAccepted, submitResponse{TrackID: trackID})
}

func (s *Server) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	rec, ok := s.webhooks.Status(trackID)
	if !ok {
		s.writeError(w, r, domain.Errorf(domain.KindValidation, "unknown track ID %q", trackID).
			WithStatus(http.StatusNotFound))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.Errorf(domain.KindValidation, "invalid request body: %v", err))
		return chatRequest{}, false
	}
	return req, true
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error *domain.Error `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	de, ok := domain.AsError(err)
	if !ok {
		de = domain.NewError(domain.KindInternal, "internal error")
	}
	writeJSON(w, de.HTTPStatusCode(), errorResponse{Error: de})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
