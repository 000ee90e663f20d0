package jobs

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jobgate/jobgate/pkg/audit"
	"github.com/jobgate/jobgate/pkg/contextkeys"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/scheduler"
)

// ErrPermissionDenied means the actor lacks the permission an operation
// requires. It is a decision, not a failure: the scheduler was never
// called and nothing was audited.
var ErrPermissionDenied = errors.New("permission denied")

// Actor identifies who is performing an operation
type Actor struct {
	ID       int64
	Username string
}

// SchedulerAPI is the slice of the admin client the service needs
type SchedulerAPI interface {
	ListJobs(ctx context.Context, params scheduler.ListJobsParams) (*scheduler.JobPage, error)
	GetJob(ctx context.Context, jobID int64) (*scheduler.Job, error)
	Groups(ctx context.Context) ([]scheduler.Group, error)
	TriggerJob(ctx context.Context, jobID int64, executorParam, addressList string) error
	StartJob(ctx context.Context, jobID int64) error
	StopJob(ctx context.Context, jobID int64) error
	UpdateJob(ctx context.Context, params scheduler.UpdateJobParams) error
	ListLogs(ctx context.Context, params scheduler.ListLogsParams) (*scheduler.LogPage, error)
	LogDetail(ctx context.Context, logID int64, fromLineNum int, triggerTime int64) (*scheduler.LogDetail, error)
	FetchCap() int
}

// JobList is a page of jobs visible to the actor. For non-admins Total is
// the count after permission filtering, not the scheduler's total.
type JobList struct {
	Total int64           `json:"total"`
	Jobs  []scheduler.Job `json:"jobs"`
}

// Service wraps the external scheduler behind per-user authorization.
// Every mutating call is gated first and audited only after the admin
// reports success.
type Service struct {
	gate      *rbac.Gate
	resolver  *rbac.Resolver
	scheduler SchedulerAPI
	recorder  audit.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewService creates the gated job service
func NewService(gate *rbac.Gate, resolver *rbac.Resolver, sched SchedulerAPI,
	recorder audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		gate:      gate,
		resolver:  resolver,
		scheduler: sched,
		recorder:  recorder,
		logger:    logger,
		metrics:   metrics,
	}
}

// ListJobs returns the jobs the actor may see. Admin listings pass the
// pagination straight through to the scheduler. Non-admin listings fetch
// up to FetchCap jobs, drop everything the actor cannot view and paginate
// the remainder locally.
func (s *Service) ListJobs(ctx context.Context, actor Actor, params scheduler.ListJobsParams) (*JobList, error) {
	perms, err := s.resolver.Resolve(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	fetch := params
	if fetch.Length <= 0 {
		fetch.Length = 10
	}

	if perms.IsAdmin {
		page, err := s.scheduler.ListJobs(ctx, fetch)
		if err != nil {
			return nil, err
		}
		return &JobList{Total: page.RecordsTotal, Jobs: page.Data}, nil
	}

	// Permission filtering needs the whole listing, so fetch up to the cap
	// and paginate locally.
	fetchAll := fetch
	fetchAll.Start = 0
	fetchAll.Length = s.scheduler.FetchCap()

	page, err := s.scheduler.ListJobs(ctx, fetchAll)
	if err != nil {
		return nil, err
	}

	visible := make([]scheduler.Job, 0, len(perms.Permissions))
	for _, job := range page.Data {
		if p, ok := perms.Find(job.ID); ok && p.CanView {
			visible = append(visible, job)
		}
	}

	total := int64(len(visible))
	start := params.Start
	if start < 0 {
		start = 0
	}
	if start > len(visible) {
		start = len(visible)
	}
	end := start + fetch.Length
	if end > len(visible) {
		end = len(visible)
	}

	return &JobList{Total: total, Jobs: visible[start:end]}, nil
}

// AccessibleGroups lists executor groups. Non-admins only see groups that
// contain at least one job they can view.
func (s *Service) AccessibleGroups(ctx context.Context, actor Actor) ([]scheduler.Group, error) {
	var perms *rbac.UserPermissions
	var groups []scheduler.Group

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		perms, err = s.resolver.Resolve(gctx, actor.ID)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = s.scheduler.Groups(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if perms.IsAdmin {
		return groups, nil
	}

	viewable := make(map[string]bool, len(perms.Permissions))
	for _, p := range perms.Permissions {
		if p.CanView && p.AppName != "" {
			viewable[p.AppName] = true
		}
	}

	visible := make([]scheduler.Group, 0, len(viewable))
	for _, group := range groups {
		if viewable[group.AppName] {
			visible = append(visible, group)
		}
	}
	return visible, nil
}

// GetJob returns one job if the actor may view it
func (s *Service) GetJob(ctx context.Context, actor Actor, jobID int64) (*scheduler.Job, error) {
	if err := s.authorize(ctx, actor, jobID, rbac.PermissionView); err != nil {
		return nil, err
	}
	return s.scheduler.GetJob(ctx, jobID)
}

// TriggerJob fires a job once. Requires execute permission. The trigger is
// audited only when the scheduler accepted it.
func (s *Service) TriggerJob(ctx context.Context, actor Actor, jobID int64, executorParam, addressList string) error {
	if err := s.authorize(ctx, actor, jobID, rbac.PermissionExecute); err != nil {
		return err
	}

	if err := s.scheduler.TriggerJob(ctx, jobID, executorParam, addressList); err != nil {
		return err
	}

	s.record(ctx, actor, audit.ActionTrigger, jobID, map[string]interface{}{
		"executor_param": executorParam,
		"address_list":   addressList,
	})
	return nil
}

// StartJob enables a job's schedule. Requires edit permission.
func (s *Service) StartJob(ctx context.Context, actor Actor, jobID int64) error {
	if err := s.authorize(ctx, actor, jobID, rbac.PermissionEdit); err != nil {
		return err
	}

	if err := s.scheduler.StartJob(ctx, jobID); err != nil {
		return err
	}

	s.record(ctx, actor, audit.ActionStart, jobID, nil)
	return nil
}

// StopJob disables a job's schedule. Requires edit permission.
func (s *Service) StopJob(ctx context.Context, actor Actor, jobID int64) error {
	if err := s.authorize(ctx, actor, jobID, rbac.PermissionEdit); err != nil {
		return err
	}

	if err := s.scheduler.StopJob(ctx, jobID); err != nil {
		return err
	}

	s.record(ctx, actor, audit.ActionStop, jobID, nil)
	return nil
}

// UpdateJob changes a job's configuration. Requires edit permission.
func (s *Service) UpdateJob(ctx context.Context, actor Actor, params scheduler.UpdateJobParams) error {
	if err := s.authorize(ctx, actor, params.ID, rbac.PermissionEdit); err != nil {
		return err
	}

	if err := s.scheduler.UpdateJob(ctx, params); err != nil {
		return err
	}

	s.record(ctx, actor, audit.ActionUpdate, params.ID, nil)
	return nil
}

// JobLogs lists execution logs of one job. Requires view permission.
func (s *Service) JobLogs(ctx context.Context, actor Actor, params scheduler.ListLogsParams) (*scheduler.LogPage, error) {
	if err := s.authorize(ctx, actor, params.JobID, rbac.PermissionView); err != nil {
		return nil, err
	}
	return s.scheduler.ListLogs(ctx, params)
}

// LogDetail reads a chunk of one run's console output. The job ID is
// required so the read is gated on view permission.
func (s *Service) LogDetail(ctx context.Context, actor Actor, jobID, logID int64, fromLineNum int, triggerTime int64) (*scheduler.LogDetail, error) {
	if err := s.authorize(ctx, actor, jobID, rbac.PermissionView); err != nil {
		return nil, err
	}
	return s.scheduler.LogDetail(ctx, logID, fromLineNum, triggerTime)
}

// authorize runs the gate and translates a denial into ErrPermissionDenied
func (s *Service) authorize(ctx context.Context, actor Actor, jobID int64, kind rbac.PermissionKind) error {
	allowed, err := s.gate.Authorize(ctx, actor.ID, jobID, kind)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}

	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	if s.metrics != nil {
		s.metrics.AuthzChecksTotal.WithLabelValues(string(kind), decision).Inc()
	}

	if !allowed {
		s.logger.WithFields(map[string]interface{}{
			"user_id": actor.ID,
			"job_id":  jobID,
			"kind":    string(kind),
		}).Info("Job operation denied")
		return fmt.Errorf("user %d lacks %s on job %d: %w", actor.ID, kind, jobID, ErrPermissionDenied)
	}
	return nil
}

// record writes an audit entry best-effort: a persistence failure is
// logged, never surfaced to the caller whose operation already succeeded.
func (s *Service) record(ctx context.Context, actor Actor, action audit.Action, jobID int64, metadata map[string]interface{}) {
	rec := &audit.Record{
		Action:    action,
		Status:    audit.StatusSuccess,
		UserID:    actor.ID,
		Username:  actor.Username,
		JobID:     jobID,
		RequestID: contextkeys.RequestID(ctx),
		Metadata:  metadata,
	}

	err := s.recorder.Record(ctx, rec)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		s.metrics.AuditWritesTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"action": string(action),
			"job_id": jobID,
		}).Error("Failed to write audit record")
	}
}
