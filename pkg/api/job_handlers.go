package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobgate/jobgate/pkg/httputil"
	"github.com/jobgate/jobgate/pkg/jobs"
	"github.com/jobgate/jobgate/pkg/middleware"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/scheduler"
)

// JobHandlers exposes the permission-gated scheduler operations
type JobHandlers struct {
	jobs   *jobs.Service
	logger *observability.Logger
}

// NewJobHandlers creates a new job handlers instance
func NewJobHandlers(service *jobs.Service, logger *observability.Logger) *JobHandlers {
	return &JobHandlers{
		jobs:   service,
		logger: logger,
	}
}

// RegisterRoutes registers job routes
func (h *JobHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/jobs", h.listJobs).Methods("GET")
	router.HandleFunc("/jobs/groups", h.listGroups).Methods("GET")
	router.HandleFunc("/jobs/{id}", h.getJob).Methods("GET")
	router.HandleFunc("/jobs/{id}", h.updateJob).Methods("PUT")
	router.HandleFunc("/jobs/{id}/trigger", h.triggerJob).Methods("POST")
	router.HandleFunc("/jobs/{id}/start", h.startJob).Methods("POST")
	router.HandleFunc("/jobs/{id}/stop", h.stopJob).Methods("POST")
	router.HandleFunc("/jobs/{id}/logs", h.listLogs).Methods("GET")
	router.HandleFunc("/jobs/{id}/logs/{log_id}", h.logDetail).Methods("GET")
}

// listJobs handles GET /api/v1/jobs
func (h *JobHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	jobGroup, err := httputil.ParseQueryInt64(r, "jobGroup", -1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	triggerStatus, err := httputil.ParseQueryInt(r, "triggerStatus", -1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	page, err := httputil.ParsePagination(r, 10, 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	params := scheduler.ListJobsParams{
		JobGroup:        jobGroup,
		TriggerStatus:   triggerStatus,
		JobDesc:         r.URL.Query().Get("jobDesc"),
		ExecutorHandler: r.URL.Query().Get("executorHandler"),
		Author:          r.URL.Query().Get("author"),
		Start:           page.Offset,
		Length:          page.Limit,
	}

	list, err := h.jobs.ListJobs(r.Context(), actor, params)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// listGroups handles GET /api/v1/jobs/groups
func (h *JobHandlers) listGroups(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	groups, err := h.jobs.AccessibleGroups(r.Context(), actor)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteSuccess(w, GroupListResponse{Groups: groups})
}

// getJob handles GET /api/v1/jobs/{id}
func (h *JobHandlers) getJob(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), actor, jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteSuccess(w, job)
}

// updateJob handles PUT /api/v1/jobs/{id}
func (h *JobHandlers) updateJob(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}

	var req UpdateJobRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	params := scheduler.UpdateJobParams{
		ID:                     jobID,
		JobGroup:               req.JobGroup,
		JobDesc:                req.JobDesc,
		Author:                 req.Author,
		AlarmEmail:             req.AlarmEmail,
		ScheduleType:           req.ScheduleType,
		ScheduleConf:           req.ScheduleConf,
		MisfireStrategy:        req.MisfireStrategy,
		ExecutorRouteStrategy:  req.ExecutorRouteStrategy,
		ExecutorHandler:        req.ExecutorHandler,
		ExecutorParam:          req.ExecutorParam,
		ExecutorBlockStrategy:  req.ExecutorBlockStrategy,
		ExecutorTimeout:        req.ExecutorTimeout,
		ExecutorFailRetryCount: req.ExecutorFailRetryCount,
		GlueType:               req.GlueType,
		GlueSource:             req.GlueSource,
		GlueRemark:             req.GlueRemark,
		ChildJobID:             req.ChildJobID,
	}

	if err := h.jobs.UpdateJob(r.Context(), actor, params); err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// triggerJob handles POST /api/v1/jobs/{id}/trigger
func (h *JobHandlers) triggerJob(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}

	// The body is optional: a bare trigger runs with the stored parameter
	var req TriggerJobRequest
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.jobs.TriggerJob(r.Context(), actor, jobID, req.ExecutorParam, req.AddressList); err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// startJob handles POST /api/v1/jobs/{id}/start
func (h *JobHandlers) startJob(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}

	if err := h.jobs.StartJob(r.Context(), actor, jobID); err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// stopJob handles POST /api/v1/jobs/{id}/stop
func (h *JobHandlers) stopJob(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}

	if err := h.jobs.StopJob(r.Context(), actor, jobID); err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// listLogs handles GET /api/v1/jobs/{id}/logs
func (h *JobHandlers) listLogs(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}

	jobGroup, err := httputil.ParseQueryInt64(r, "jobGroup", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	logStatus, err := httputil.ParseQueryInt(r, "logStatus", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	page, err := httputil.ParsePagination(r, 10, 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	params := scheduler.ListLogsParams{
		JobGroup:   jobGroup,
		JobID:      jobID,
		LogStatus:  logStatus,
		FilterTime: r.URL.Query().Get("filterTime"),
		Start:      page.Offset,
		Length:     page.Limit,
	}

	logs, err := h.jobs.JobLogs(r.Context(), actor, params)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteSuccess(w, logs)
}

// logDetail handles GET /api/v1/jobs/{id}/logs/{log_id}
func (h *JobHandlers) logDetail(w http.ResponseWriter, r *http.Request) {
	actor, jobID, ok := requireActorAndJob(w, r)
	if !ok {
		return
	}
	logID, ok := httputil.ParsePathInt64OrError(w, r, "log_id")
	if !ok {
		return
	}

	fromLineNum, err := httputil.ParseQueryInt(r, "fromLineNum", 1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	triggerTime, err := httputil.ParseQueryInt64(r, "triggerTime", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	detail, err := h.jobs.LogDetail(r.Context(), actor, jobID, logID, fromLineNum, triggerTime)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	httputil.WriteSuccess(w, detail)
}

func (h *JobHandlers) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrPermissionDenied):
		httputil.WriteForbidden(w, "permission denied")
	case errors.Is(err, scheduler.ErrNotFound):
		httputil.WriteNotFoundError(w, "job not found")
	case errors.Is(err, scheduler.ErrUnavailable):
		httputil.WriteBadGateway(w, "scheduler unavailable")
	default:
		h.logger.WithError(err).Error("job operation failed")
		httputil.WriteInternalError(w, err)
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (jobs.Actor, bool) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return jobs.Actor{}, false
	}
	return jobs.Actor{ID: authCtx.UserID, Username: authCtx.Username}, true
}

func requireActorAndJob(w http.ResponseWriter, r *http.Request) (jobs.Actor, int64, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return jobs.Actor{}, 0, false
	}
	jobID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return jobs.Actor{}, 0, false
	}
	return actor, jobID, true
}
