// Package api exposes the HTTP interface for the verification service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seda-audio/artist-verifier/internal/config"
	"github.com/seda-audio/artist-verifier/internal/telemetry"
	"github.com/seda-audio/artist-verifier/internal/verify"
)

// Server wires HTTP handlers to the verification service.
type Server struct {
	router  chi.Router
	service *verify.Service
	logger  *zap.Logger
	cfg     config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service *verify.Service, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger,
		cfg:     cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/verifications", func(r chi.Router) {
			r.Post("/", s.requestVerification)
			r.Get("/", s.listVerifications)
			r.Post("/submit", s.submitVerification)
			r.Route("/{verification_id}", func(r chi.Router) {
				r.Get("/", s.getVerification)
				r.Post("/review", s.reviewVerification)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) requestVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	res, err := s.service.RequestVerification(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, verificationResponse{
		Verification: toVerificationDTO(res.Request),
		Instructions: res.Instructions,
	})
}

func (s *Server) submitVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ClaimCode == "" || req.TargetURL == "" {
		writeError(w, http.StatusBadRequest, "claim_code and target_url are required")
		return
	}
	updated, err := s.service.SubmitVerification(r.Context(), userID, req.ClaimCode, req.TargetURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationResponse{Verification: toVerificationDTO(updated)})
}

func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	verificationID := chi.URLParam(r, "verification_id")
	req, err := s.service.GetVerificationStatus(r.Context(), userID, verificationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse{Verification: toVerificationDTO(req)})
}

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	reqs, err := s.service.GetUserVerifications(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]verificationDTO, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toVerificationDTO(req))
	}
	writeJSON(w, http.StatusOK, listResponse{Verifications: out})
}

func (s *Server) reviewVerification(w http.ResponseWriter, r *http.Request) {
	verificationID := chi.URLParam(r, "verification_id")
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	approve := false
	switch req.Decision {
	case "approve":
		approve = true
	case "deny":
	default:
		writeError(w, http.StatusBadRequest, "decision must be approve or deny")
		return
	}
	updated, err := s.service.ResolveReview(r.Context(), verificationID, approve, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse{Verification: toVerificationDTO(updated)})
}

type submitRequest struct {
	ClaimCode string `json:"claim_code"`
	TargetURL string `json:"target_url"`
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type verificationDTO struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ClaimCode       string     `json:"claim_code"`
	TargetURL       string     `json:"target_url,omitempty"`
	Status          string     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CrawledAt       *time.Time `json:"crawled_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	DenialReason    string     `json:"denial_reason,omitempty"`
	CrawlerResponse string     `json:"crawler_response,omitempty"`
}

type verificationResponse struct {
	Verification verificationDTO `json:"verification"`
	Instructions string          `json:"instructions,omitempty"`
}

type listResponse struct {
	Verifications []verificationDTO `json:"verifications"`
}

func toVerificationDTO(req verify.VerificationRequest) verificationDTO {
	return verificationDTO{
		ID:              req.ID,
		UserID:          req.UserID,
		ClaimCode:       req.ClaimCode,
		TargetURL:       req.TargetURL,
		Status:          string(req.Status),
		SubmittedAt:     req.SubmittedAt,
		ExpiresAt:       req.ExpiresAt,
		CrawledAt:       req.CrawledAt,
		ReviewedAt:      req.ReviewedAt,
		DenialReason:    req.DenialReason,
		CrawlerResponse: req.CrawlerResponse,
	}
}

// callerID extracts the authenticated user from the request. Identity is
// established upstream; this service trusts the forwarded header.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return userID, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verify.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, verify.ErrConflict), errors.Is(err, verify.ErrNotReviewable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, verify.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, verify.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, verify.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
