package api

import (
	"encoding/json"
	"net/http"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/service"
)

// AnalysisRequest is the body accepted by the grading endpoints.
type AnalysisRequest struct {
	Content      string            `json:"content"`
	Theme        string            `json:"theme"`
	AnalysisType core.AnalysisKind `json:"analysis_type,omitempty"`
	Model        string            `json:"model,omitempty"`
	ThemeContext core.ThemeContext `json:"theme_context"`
}

// kind defaults to a full essay when the caller omits it.
func (r AnalysisRequest) kind() core.AnalysisKind {
	if r.AnalysisType == "" {
		return core.KindFull
	}
	return r.AnalysisType
}

func (r AnalysisRequest) toAnalysis(caller string) service.AnalysisRequest {
	return service.AnalysisRequest{
		Content:      r.Content,
		Theme:        r.Theme,
		Kind:         r.kind(),
		CallerID:     caller,
		ThemeContext: r.ThemeContext,
	}
}

func callerID(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}

// decodeAnalysisRequest reads the body, answering 400 on malformed JSON.
func decodeAnalysisRequest(w http.ResponseWriter, r *http.Request) (AnalysisRequest, bool) {
	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request) {
	if s.svc.Corrector == nil {
		respondError(w, http.StatusServiceUnavailable, "corrections are not configured")
		return
	}
	req, ok := decodeAnalysisRequest(w, r)
	if !ok {
		return
	}

	out, err := s.svc.Corrector.Correct(r.Context(), service.CorrectRequest{
		Content:      req.Content,
		Theme:        req.Theme,
		Kind:         req.kind(),
		ModelID:      req.Model,
		CallerID:     callerID(r),
		ThemeContext: req.ThemeContext,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeepAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.svc.Deep == nil {
		respondError(w, http.StatusServiceUnavailable, "deep analysis is not configured")
		return
	}
	req, ok := decodeAnalysisRequest(w, r)
	if !ok {
		return
	}

	out, err := s.svc.Deep.Analyze(r.Context(), req.toAnalysis(callerID(r)))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if s.svc.Deep == nil {
		respondError(w, http.StatusServiceUnavailable, "deep analysis is not configured")
		return
	}
	req, ok := decodeAnalysisRequest(w, r)
	if !ok {
		return
	}

	out, err := s.svc.Deep.Compare(r.Context(), req.toAnalysis(callerID(r)))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeepHealth(w http.ResponseWriter, _ *http.Request) {
	if s.svc.Deep == nil {
		respondError(w, http.StatusServiceUnavailable, "deep analysis is not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Deep.Health())
}

func (s *Server) handleEnhancedAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.svc.Enhanced == nil {
		respondError(w, http.StatusServiceUnavailable, "enhanced analysis is not configured")
		return
	}
	req, ok := decodeAnalysisRequest(w, r)
	if !ok {
		return
	}

	out, err := s.svc.Enhanced.Analyze(r.Context(), req.toAnalysis(callerID(r)))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
