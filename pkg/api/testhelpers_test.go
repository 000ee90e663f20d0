package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/jobgate/jobgate/pkg/audit"
	"github.com/jobgate/jobgate/pkg/auth"
	"github.com/jobgate/jobgate/pkg/jobs"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/scheduler"
	"github.com/jobgate/jobgate/pkg/users"
)

// fakeScheduler backs the job service in API tests
type fakeScheduler struct {
	jobs   []scheduler.Job
	groups []scheduler.Group
	logs   []scheduler.LogEntry

	failNext  error
	triggered []int64
	started   []int64
	stopped   []int64
	updated   []scheduler.UpdateJobParams
}

func (f *fakeScheduler) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeScheduler) ListJobs(ctx context.Context, params scheduler.ListJobsParams) (*scheduler.JobPage, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	start := params.Start
	if start > len(f.jobs) {
		start = len(f.jobs)
	}
	end := start + params.Length
	if end > len(f.jobs) {
		end = len(f.jobs)
	}
	return &scheduler.JobPage{
		RecordsTotal:    int64(len(f.jobs)),
		RecordsFiltered: int64(len(f.jobs)),
		Data:            f.jobs[start:end],
	}, nil
}

func (f *fakeScheduler) GetJob(ctx context.Context, jobID int64) (*scheduler.Job, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	for i := range f.jobs {
		if f.jobs[i].ID == jobID {
			return &f.jobs[i], nil
		}
	}
	return nil, scheduler.ErrNotFound
}

func (f *fakeScheduler) Groups(ctx context.Context) ([]scheduler.Group, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return f.groups, nil
}

func (f *fakeScheduler) TriggerJob(ctx context.Context, jobID int64, executorParam, addressList string) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.triggered = append(f.triggered, jobID)
	return nil
}

func (f *fakeScheduler) StartJob(ctx context.Context, jobID int64) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeScheduler) StopJob(ctx context.Context, jobID int64) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.stopped = append(f.stopped, jobID)
	return nil
}

func (f *fakeScheduler) UpdateJob(ctx context.Context, params scheduler.UpdateJobParams) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.updated = append(f.updated, params)
	return nil
}

func (f *fakeScheduler) ListLogs(ctx context.Context, params scheduler.ListLogsParams) (*scheduler.LogPage, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return &scheduler.LogPage{RecordsTotal: int64(len(f.logs)), Data: f.logs}, nil
}

func (f *fakeScheduler) LogDetail(ctx context.Context, logID int64, fromLineNum int, triggerTime int64) (*scheduler.LogDetail, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return &scheduler.LogDetail{FromLineNum: fromLineNum, ToLineNum: 10, LogContent: "output", End: true}, nil
}

func (f *fakeScheduler) FetchCap() int { return 10000 }

type memoryRecorder struct {
	records []*audit.Record
}

func (m *memoryRecorder) Record(ctx context.Context, record *audit.Record) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memoryRecorder) Close() error { return nil }

type serverEnv struct {
	db       *sql.DB
	server   *Server
	users    *users.Store
	roles    *rbac.Store
	sched    *fakeScheduler
	recorder *memoryRecorder
	issuer   *auth.TokenIssuer
}

func setupServer(t *testing.T) *serverEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite is per-connection; keep the pool at one
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			is_admin INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE user_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			assigned_by INTEGER,
			assigned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, role_id)
		);
		CREATE TABLE role_job_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
			job_id INTEGER NOT NULL,
			app_name TEXT NOT NULL DEFAULT '',
			can_view INTEGER NOT NULL DEFAULT 0,
			can_execute INTEGER NOT NULL DEFAULT 0,
			can_edit INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(role_id, job_id)
		);
		CREATE TABLE audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			username TEXT,
			job_id INTEGER NOT NULL,
			job_desc TEXT,
			app_name TEXT,
			ip_address TEXT,
			request_id TEXT,
			detail TEXT,
			metadata TEXT
		);
	`)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	roleStore := rbac.NewStore(db)
	userStore := users.NewStore(db)
	resolver := rbac.NewResolver(roleStore)
	gate := rbac.NewGate(roleStore)

	sched := &fakeScheduler{
		jobs: []scheduler.Job{
			{ID: 1, JobGroup: 10, JobDesc: "settlement", TriggerStatus: 1},
			{ID: 2, JobGroup: 10, JobDesc: "sync", TriggerStatus: 0},
			{ID: 3, JobGroup: 20, JobDesc: "report", TriggerStatus: 1},
		},
		groups: []scheduler.Group{
			{ID: 10, AppName: "payments-executor"},
			{ID: 20, AppName: "reports-executor"},
		},
		logs: []scheduler.LogEntry{{ID: 100, JobID: 1, JobGroup: 10}},
	}
	recorder := &memoryRecorder{}
	service := jobs.NewService(gate, resolver, sched, recorder, logger, nil)

	issuer, err := auth.NewTokenIssuer("test-secret-0123456789abcdef0123", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	server := NewServer(Deps{
		Users:      userStore,
		Roles:      roleStore,
		Resolver:   resolver,
		Jobs:       service,
		AuditStore: audit.NewStore(db),
		Issuer:     issuer,
		Logger:     logger,
	})

	return &serverEnv{
		db:       db,
		server:   server,
		users:    userStore,
		roles:    roleStore,
		sched:    sched,
		recorder: recorder,
		issuer:   issuer,
	}
}

func (e *serverEnv) createUser(t *testing.T, username, password string, admin bool) *rbac.User {
	t.Helper()

	user := &rbac.User{
		Username: username,
		Email:    username + "@example.com",
		IsAdmin:  admin,
		IsActive: true,
	}
	require.NoError(t, e.users.CreateUser(context.Background(), user, password))
	return user
}

func (e *serverEnv) token(t *testing.T, user *rbac.User) string {
	t.Helper()

	token, err := e.issuer.IssueAccessToken(user.ID, user.Username, user.IsAdmin)
	require.NoError(t, err)
	return token
}

// grantJob creates a fresh role carrying one job permission and assigns it
func (e *serverEnv) grantJob(t *testing.T, userID, jobID int64, appName string, view, execute, edit bool) {
	t.Helper()
	ctx := context.Background()

	role := &rbac.Role{Name: "grant-" + t.Name() + "-" + time.Now().Format("150405.000000000")}
	require.NoError(t, e.roles.CreateRole(ctx, role))
	require.NoError(t, e.roles.UpsertPermission(ctx, &rbac.RoleJobPermission{
		RoleID:     role.ID,
		JobID:      jobID,
		AppName:    appName,
		CanView:    view,
		CanExecute: execute,
		CanEdit:    edit,
	}))
	require.NoError(t, e.roles.AssignRole(ctx, userID, role.ID, nil))
}

// do issues a request against the server with an optional bearer token
func (e *serverEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}
