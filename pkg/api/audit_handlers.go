package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobgate/jobgate/pkg/audit"
	"github.com/jobgate/jobgate/pkg/httputil"
)

// AuditHandlers exposes the audit trail. All routes are admin-only.
type AuditHandlers struct {
	store *audit.Store
}

// NewAuditHandlers creates a new audit handlers instance
func NewAuditHandlers(store *audit.Store) *AuditHandlers {
	return &AuditHandlers{store: store}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.search).Methods("GET")
	router.HandleFunc("/audit/stats", h.stats).Methods("GET")
}

// search handles GET /api/v1/audit
func (h *AuditHandlers) search(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, total, err := h.store.Search(r.Context(), *filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, AuditSearchResponse{
		Total:   total,
		Records: records,
	})
}

// stats handles GET /api/v1/audit/stats
func (h *AuditHandlers) stats(w http.ResponseWriter, r *http.Request) {
	startTime, err := parseTimeParam(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	endTime, err := parseTimeParam(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

func parseAuditFilter(r *http.Request) (*audit.SearchFilter, error) {
	filter := &audit.SearchFilter{}

	page, err := httputil.ParsePagination(r, 50, 500)
	if err != nil {
		return nil, err
	}
	filter.Limit = page.Limit
	filter.Offset = page.Offset

	userID, err := httputil.ParseQueryInt64(r, "user_id", 0)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		filter.UserID = &userID
	}

	jobID, err := httputil.ParseQueryInt64(r, "job_id", 0)
	if err != nil {
		return nil, err
	}
	if jobID != 0 {
		filter.JobID = &jobID
	}

	if actions := r.URL.Query().Get("action"); actions != "" {
		for _, a := range strings.Split(actions, ",") {
			filter.Actions = append(filter.Actions, audit.Action(strings.TrimSpace(a)))
		}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		s := audit.Status(status)
		filter.Status = &s
	}

	filter.StartTime, err = parseTimeParam(r, "start_time")
	if err != nil {
		return nil, err
	}
	filter.EndTime, err = parseTimeParam(r, "end_time")
	if err != nil {
		return nil, err
	}

	return filter, nil
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
