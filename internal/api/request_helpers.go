package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/api/shared"
	"github.com/phrazzld/cadence-api/internal/domain"
)

// getPathUUID parses the named chi path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return uuid.Nil, domain.NewValidationError(paramName, "is required", domain.ErrValidation)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(paramName, "has invalid format", domain.ErrInvalidID)
	}
	return id, nil
}

// ownerAndPathUUID returns the authenticated owner and the {id} path
// parameter, writing an error response when either is missing.
func ownerAndPathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	owner, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner not authenticated")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return uuid.Nil, uuid.Nil, false
	}
	return owner, id, true
}

// parseTaskFilter reads completed, priority, tag (repeatable or comma
// separated), due_before and due_after query parameters.
func parseTaskFilter(r *http.Request) (domain.TaskFilter, error) {
	q := r.URL.Query()
	var f domain.TaskFilter

	if v := q.Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, domain.NewValidationError("completed", "must be true or false", domain.ErrInvalidFormat)
		}
		f.Completed = &b
	}
	if v := q.Get("priority"); v != "" {
		p := domain.Priority(strings.ToLower(v))
		if !p.Valid() {
			return f, domain.NewValidationError("priority", "must be low, medium or high", domain.ErrValidation)
		}
		f.Priority = &p
	}
	for _, raw := range q["tag"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				f.Tags = append(f.Tags, tag)
			}
		}
	}
	for name, dst := range map[string]**time.Time{"due_before": &f.DueBefore, "due_after": &f.DueAfter} {
		if v := q.Get(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, domain.NewValidationError(name, "must be an RFC 3339 timestamp", domain.ErrInvalidFormat)
			}
			*dst = &ts
		}
	}
	if v := q.Get("rule_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, domain.NewValidationError("rule_id", "has invalid format", domain.ErrInvalidID)
		}
		f.RuleID = &id
	}
	return f, nil
}

// parsePage reads limit and offset query parameters.
func parsePage(r *http.Request) (domain.Page, error) {
	var p domain.Page
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		if v := r.URL.Query().Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return p, domain.NewValidationError(name, "must be a non-negative integer", domain.ErrInvalidFormat)
			}
			*dst = n
		}
	}
	return p.Normalize(), nil
}
