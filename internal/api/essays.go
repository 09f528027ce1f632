package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/service"
)

// EssayAnalysisResponse pairs the stored essay id with the analysis that was
// written to it.
type EssayAnalysisResponse struct {
	EssayID  string      `json:"essay_id"`
	Mode     string      `json:"mode"`
	Analysis interface{} `json:"analysis"`
}

// loadEssay resolves the path essay and the request it implies. Stored
// essays are always graded as full essays.
func (s *Server) loadEssay(w http.ResponseWriter, r *http.Request) (string, service.AnalysisRequest, bool) {
	if s.svc.Essays == nil {
		respondError(w, http.StatusServiceUnavailable, "essay store is not configured")
		return "", service.AnalysisRequest{}, false
	}

	essayID := chi.URLParam(r, "essayID")
	essay, err := s.svc.Essays.GetEssay(r.Context(), essayID)
	if err != nil {
		respondDomainError(w, err)
		return "", service.AnalysisRequest{}, false
	}

	caller := callerID(r)
	if caller == "" {
		caller = essay.UserID
	}
	return essay.ID, service.AnalysisRequest{
		Content:  essay.Content,
		Theme:    essay.Theme,
		Kind:     core.KindFull,
		CallerID: caller,
	}, true
}

func (s *Server) handleEssayDeepAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.svc.Deep == nil {
		respondError(w, http.StatusServiceUnavailable, "deep analysis is not configured")
		return
	}
	essayID, req, ok := s.loadEssay(w, r)
	if !ok {
		return
	}

	res, err := s.svc.Deep.Analyze(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	err = s.svc.Essays.ApplyAnalysis(r.Context(), essayID, core.EssayAnalysisUpdate{
		Feedback:    res.FinalFeedback,
		Score:       res.FinalScore,
		Reliability: res.ConsensusMetrics.ReliabilityLevel,
		Mode:        core.ModeDeep,
		AnalyzedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to store essay analysis", "essay_id", essayID, "error", err)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, EssayAnalysisResponse{EssayID: essayID, Mode: core.ModeDeep, Analysis: res})
}

func (s *Server) handleEssayEnhancedAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.svc.Enhanced == nil {
		respondError(w, http.StatusServiceUnavailable, "enhanced analysis is not configured")
		return
	}
	essayID, req, ok := s.loadEssay(w, r)
	if !ok {
		return
	}

	res, err := s.svc.Enhanced.Analyze(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	err = s.svc.Essays.ApplyAnalysis(r.Context(), essayID, core.EssayAnalysisUpdate{
		Feedback:    res.Phase2.ConsolidatedFeedback,
		Score:       res.Phase2.FinalScore,
		Reliability: res.Phase2.ReliabilityLevel,
		Mode:        core.ModeEnhancedDeep,
		AnalyzedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to store essay analysis", "essay_id", essayID, "error", err)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, EssayAnalysisResponse{EssayID: essayID, Mode: core.ModeEnhancedDeep, Analysis: res})
}
