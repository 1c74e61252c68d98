package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"examforge/internal/auth"
	"examforge/internal/continuation"
	"examforge/internal/generation"
	"examforge/internal/logger"
	"examforge/internal/models"
	"examforge/internal/orchestrator"
	"examforge/internal/reaper"
	"examforge/internal/sections"
)

// SectionService is the orchestrator surface the HTTP layer drives.
type SectionService interface {
	Status(ctx context.Context, sectionID string) (orchestrator.Progress, models.Section, error)
	Trigger(ctx context.Context, sectionID string, p auth.Principal) (orchestrator.Progress, error)
	Continue(ctx context.Context, c continuation.Continuation) (orchestrator.Progress, error)
	Resume(ctx context.Context, sectionID string, p auth.Principal) (orchestrator.Progress, error)
	Reclaim(ctx context.Context, sectionID string) (reaper.Result, error)
	Finalize(ctx context.Context, sectionID string) (models.Section, error)
	Reassign(ctx context.Context, sectionID string, sourceIDs []string) (models.Section, error)
}

type Server struct {
	sections SectionService
	auth     *auth.Service
	log      *logger.Logger
}

func NewServer(svc SectionService, authSvc *auth.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{sections: svc, auth: authSvc, log: log}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	authed := auth.Middleware(s.auth, func(w http.ResponseWriter, err error) {
		writeErr(w, http.StatusUnauthorized, err)
	})
	mux.Handle("/sections/", authed(http.HandlerFunc(s.handleSectionsScoped)))
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSectionsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sections/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	sectionID := parts[0]
	principal, _ := auth.FromContext(r.Context())

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		progress, sec, err := s.sections.Status(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": progress, "section": sec})
		return
	}

	action := parts[1]
	want := http.MethodPost
	if action == "sources" {
		want = http.MethodPut
	}
	if r.Method != want {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	switch action {
	case "generate":
		p, err := s.sections.Trigger(r.Context(), sectionID, principal)
		s.writeProgress(w, p, err)
	case "continue":
		var req struct {
			AttemptID string `json:"attempt_id"`
			NextBatch int    `json:"next_batch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if strings.TrimSpace(req.AttemptID) == "" || req.NextBatch < 1 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("attempt_id and next_batch are required"))
			return
		}
		p, err := s.sections.Continue(r.Context(), continuation.Continuation{
			SectionID: sectionID,
			AttemptID: req.AttemptID,
			NextBatch: req.NextBatch,
			AuthToken: principal.Token,
		})
		s.writeProgress(w, p, err)
	case "resume":
		p, err := s.sections.Resume(r.Context(), sectionID, principal)
		s.writeProgress(w, p, err)
	case "reclaim":
		res, err := s.sections.Reclaim(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "finalize":
		sec, err := s.sections.Finalize(r.Context(), sectionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": sec})
	case "sources":
		var req struct {
			SourceIDs []string `json:"source_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		sec, err := s.sections.Reassign(r.Context(), sectionID, req.SourceIDs)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": sec})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) writeProgress(w http.ResponseWriter, p orchestrator.Progress, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	code := http.StatusOK
	if p.Partial {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, p)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Error("request failed", "status", code, "error", err)
	}
	writeErr(w, code, err)
}

func statusFor(err error) int {
	var ge *generation.Error
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrAttemptLost),
		errors.Is(err, sections.ErrInvalidTransition),
		errors.Is(err, sections.ErrIncomplete),
		errors.Is(err, orchestrator.ErrNothingToResume):
		return http.StatusConflict
	case errors.As(err, &ge):
		switch ge.Kind {
		case generation.KindPlanning:
			return http.StatusBadRequest
		case generation.KindService, generation.KindTimeout, generation.KindParse:
			return http.StatusBadGateway
		case generation.KindDispatch:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "EF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		code = "EF-GEN-5020"
		msg = "Question generation failed after retries. The section was reset and can be generated again."
		if strings.Contains(raw, "parse") {
			msg = "The generation service kept returning unusable output. The section was reset and can be generated again."
		}
		return apiError{Code: code, Message: msg}
	case status == http.StatusServiceUnavailable:
		return apiError{Code: "EF-GEN-5030", Message: "The next batch could not be scheduled. The run was parked for review and can be resumed."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "EF-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "EF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		case strings.Contains(raw, "persistence"):
			return apiError{
				Code:    "EF-DB-5003",
				Message: "Generated questions could not be saved. The section was marked failed.",
			}
		default:
			return apiError{
				Code:    "EF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "EF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusUnauthorized:
		code = "EF-API-4010"
		msg = "A valid bearer token is required."
	case status == http.StatusNotFound:
		code = "EF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "EF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "EF-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "attempt_id and next_batch are required"):
			msg = "Both attempt_id and next_batch are required."
		case strings.Contains(raw, "target count"):
			msg = "The section needs a question count of at least 1."
		case strings.Contains(raw, "no sources assigned"), strings.Contains(raw, "at least one source"):
			msg = "Assign at least one chapter before generating this section."
		case strings.Contains(raw, "already in progress"):
			msg = "Generation is already running for this section."
		case errors.Is(err, sections.ErrIncomplete):
			msg = "Every question must be selected before the section can be finalized."
		case errors.Is(err, orchestrator.ErrNothingToResume):
			msg = "This section already reached its question target; there is nothing to resume."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
