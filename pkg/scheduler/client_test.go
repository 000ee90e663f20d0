package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgate/jobgate/pkg/config"
	"github.com/jobgate/jobgate/pkg/observability"
)

// fakeAdmin imitates the external admin: cookie-session login,
// form-encoded action endpoints, paginated listing endpoints.
type fakeAdmin struct {
	server *httptest.Server

	logins   atomic.Int64
	rejected atomic.Bool // when set, non-login requests get 401 once

	jobs   []Job
	groups []Group
	logs   []LogEntry

	groupListCalls atomic.Int64
}

func newFakeAdmin(t *testing.T) *fakeAdmin {
	t.Helper()

	f := &fakeAdmin{
		jobs: []Job{
			{ID: 1, JobGroup: 10, JobDesc: "nightly settlement", TriggerStatus: 1},
			{ID: 2, JobGroup: 10, JobDesc: "hourly sync", TriggerStatus: 0},
			{ID: 3, JobGroup: 20, JobDesc: "report export", TriggerStatus: 1},
		},
		groups: []Group{
			{ID: 10, AppName: "payments-executor", Title: "Payments"},
			{ID: 20, AppName: "reports-executor", Title: "Reports"},
		},
		logs: []LogEntry{
			{ID: 100, JobID: 1, JobGroup: 10, TriggerCode: 200, HandleCode: 200},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("userName") != "admin" || r.PostFormValue("password") != "secret" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "XXL_JOB_LOGIN_IDENTITY", Value: fmt.Sprintf("session-%d", f.logins.Load())})
		w.Header().Set("Location", "/")
		w.WriteHeader(http.StatusFound)
	})

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if f.rejected.Swap(false) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			cookie, err := r.Cookie("XXL_JOB_LOGIN_IDENTITY")
			if err != nil || cookie.Value == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/jobinfo/pageList", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobPage{
			RecordsTotal:    int64(len(f.jobs)),
			RecordsFiltered: int64(len(f.jobs)),
			Data:            f.jobs,
		})
	}))
	mux.HandleFunc("/jobgroup/pageList", authed(func(w http.ResponseWriter, r *http.Request) {
		f.groupListCalls.Add(1)
		json.NewEncoder(w).Encode(GroupPage{
			RecordsTotal: int64(len(f.groups)),
			Data:         f.groups,
		})
	}))
	mux.HandleFunc("/jobinfo/trigger", authed(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("id") == "999" {
			json.NewEncoder(w).Encode(map[string]interface{}{"code": 500, "msg": "job not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 200, "msg": ""})
	}))
	mux.HandleFunc("/jobinfo/start", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 200})
	}))
	mux.HandleFunc("/jobinfo/stop", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 200})
	}))
	mux.HandleFunc("/jobinfo/update", authed(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if _, withheld := r.PostForm["executorParam"]; withheld {
			json.NewEncoder(w).Encode(map[string]interface{}{"code": 500, "msg": "unexpected field"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 200})
	}))
	mux.HandleFunc("/joblog/pageList", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LogPage{
			RecordsTotal: int64(len(f.logs)),
			Data:         f.logs,
		})
	}))
	mux.HandleFunc("/joblog/logDetailCat", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"content": LogDetail{
				FromLineNum: 0,
				ToLineNum:   2,
				LogContent:  "line one\nline two",
				End:         true,
			},
		})
	}))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	return NewClient(config.SchedulerConfig{
		BaseURL:        baseURL,
		Username:       "admin",
		Password:       "secret",
		RequestTimeout: 5 * time.Second,
		FetchCap:       10000,
		GroupCacheTTL:  30 * time.Second,
	}, logger, metrics)
}

func TestClientLogin(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)

	require.NoError(t, client.Login(context.Background()))
	assert.Equal(t, int64(1), admin.logins.Load())
}

func TestClientLogin_BadCredentials(t *testing.T) {
	admin := newFakeAdmin(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	client := NewClient(config.SchedulerConfig{
		BaseURL:        admin.server.URL,
		Username:       "admin",
		Password:       "wrong",
		RequestTimeout: 5 * time.Second,
		FetchCap:       10000,
		GroupCacheTTL:  30 * time.Second,
	}, logger, observability.NewMetrics(prometheus.NewRegistry()))

	err := client.Login(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientListJobs(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	page, err := client.ListJobs(ctx, ListJobsParams{JobGroup: -1, TriggerStatus: -1, Length: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.RecordsTotal)
	require.Len(t, page.Data, 3)
	assert.Equal(t, "nightly settlement", page.Data[0].JobDesc)
}

func TestClientGetJob(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	job, err := client.GetJob(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "hourly sync", job.JobDesc)
	assert.Equal(t, int64(10), job.JobGroup)

	_, err = client.GetJob(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientGroups_Cached(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	groups, err := client.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "payments-executor", groups[0].AppName)

	// Second call inside the TTL is served from cache
	_, err = client.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admin.groupListCalls.Load())
}

func TestClientReloginOnSessionRejection(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	// Next request is rejected once; the client must log in again and retry
	admin.rejected.Store(true)

	page, err := client.ListJobs(ctx, ListJobsParams{JobGroup: -1, TriggerStatus: -1, Length: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.RecordsTotal)
	assert.Equal(t, int64(2), admin.logins.Load())
}

func TestClientRequestWithoutSession(t *testing.T) {
	// No prior Login call: first request gets 401, the client logs in and
	// retries transparently.
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)

	page, err := client.ListJobs(context.Background(), ListJobsParams{JobGroup: -1, TriggerStatus: -1, Length: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.RecordsTotal)
	assert.Equal(t, int64(1), admin.logins.Load())
}

func TestClientTriggerJob(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	require.NoError(t, client.TriggerJob(ctx, 1, `{"mode":"full"}`, ""))

	t.Run("application error", func(t *testing.T) {
		err := client.TriggerJob(ctx, 999, "", "")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Contains(t, err.Error(), "job not found")
	})
}

func TestClientStartStopJob(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	assert.NoError(t, client.StartJob(ctx, 1))
	assert.NoError(t, client.StopJob(ctx, 1))
}

func TestClientUpdateJob_OmitsNilFields(t *testing.T) {
	// The fake admin fails when executorParam is present; leaving the
	// pointer nil must keep the field out of the form entirely.
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	desc := "renamed job"
	require.NoError(t, client.UpdateJob(ctx, UpdateJobParams{ID: 1, JobDesc: &desc}))

	param := "x"
	err := client.UpdateJob(ctx, UpdateJobParams{ID: 1, ExecutorParam: &param})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientListLogsAndDetail(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	page, err := client.ListLogs(ctx, ListLogsParams{JobGroup: 10, JobID: 1, Length: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, int64(100), page.Data[0].ID)

	detail, err := client.LogDetail(ctx, 100, 0, 0)
	require.NoError(t, err)
	assert.True(t, detail.End)
	assert.Contains(t, detail.LogContent, "line one")
}

func TestClientAdminDown(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	admin.server.Close()

	err := client.Login(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = client.ListJobs(context.Background(), ListJobsParams{JobGroup: -1, Length: 10})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientPing(t *testing.T) {
	admin := newFakeAdmin(t)
	client := newTestClient(t, admin.server.URL)
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	assert.NoError(t, client.Ping(ctx))
}
