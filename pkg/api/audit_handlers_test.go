package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgate/jobgate/pkg/audit"
)

func insertAuditRow(t *testing.T, env *serverEnv, r audit.Record) {
	t.Helper()

	_, err := env.db.Exec(`
		INSERT INTO audit_logs (timestamp, action, status, user_id, username, job_id, job_desc, app_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Timestamp, r.Action, r.Status, r.UserID, r.Username, r.JobID, r.JobDesc, r.AppName)
	require.NoError(t, err)
}

func TestAuditSearchEndpoint(t *testing.T) {
	env := setupServer(t)
	admin := env.createUser(t, "root", "s3cret", true)
	token := env.token(t, admin)

	now := time.Now()
	insertAuditRow(t, env, audit.Record{Timestamp: now.Add(-2 * time.Hour), Action: audit.ActionTrigger, Status: audit.StatusSuccess, UserID: 1, Username: "alice", JobID: 42})
	insertAuditRow(t, env, audit.Record{Timestamp: now.Add(-1 * time.Hour), Action: audit.ActionStop, Status: audit.StatusSuccess, UserID: 2, Username: "bob", JobID: 42})
	insertAuditRow(t, env, audit.Record{Timestamp: now, Action: audit.ActionUpdate, Status: audit.StatusSuccess, UserID: 1, Username: "alice", JobID: 7})

	rec := env.do(t, http.MethodGet, "/api/v1/audit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuditSearchResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(3), resp.Total)
	require.Len(t, resp.Records, 3)
	// Newest first
	assert.Equal(t, audit.ActionUpdate, resp.Records[0].Action)

	t.Run("filter by user", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/audit?user_id=2", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditSearchResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, int64(1), resp.Total)
		require.Len(t, resp.Records, 1)
		assert.Equal(t, "bob", resp.Records[0].Username)
	})

	t.Run("filter by job and action", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/audit?job_id=42&action=job.trigger", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditSearchResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, int64(1), resp.Total)
	})

	t.Run("time range", func(t *testing.T) {
		start := now.Add(-90 * time.Minute).Format(time.RFC3339)
		rec := env.do(t, http.MethodGet, "/api/v1/audit?start_time="+start, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditSearchResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, int64(2), resp.Total)
	})

	t.Run("pagination", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/audit?limit=2&offset=2", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditSearchResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, int64(3), resp.Total)
		assert.Len(t, resp.Records, 1)
	})

	t.Run("bad time", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/audit?start_time=yesterday", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditStatsEndpoint(t *testing.T) {
	env := setupServer(t)
	admin := env.createUser(t, "root", "s3cret", true)
	token := env.token(t, admin)

	now := time.Now()
	insertAuditRow(t, env, audit.Record{Timestamp: now, Action: audit.ActionTrigger, Status: audit.StatusSuccess, UserID: 1, Username: "alice", JobID: 42})
	insertAuditRow(t, env, audit.Record{Timestamp: now, Action: audit.ActionTrigger, Status: audit.StatusFailure, UserID: 2, Username: "bob", JobID: 42})

	rec := env.do(t, http.MethodGet, "/api/v1/audit/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats audit.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(2), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(2), stats.RecordsByAction[audit.ActionTrigger])
	assert.Equal(t, int64(1), stats.RecordsByStatus[audit.StatusFailure])
}

func TestAuditRoutes_AdminOnly(t *testing.T) {
	env := setupServer(t)
	alice := env.createUser(t, "alice", "s3cret", false)
	token := env.token(t, alice)

	for _, path := range []string{"/api/v1/audit", "/api/v1/audit/stats"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, path, token, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestAuditEndToEnd(t *testing.T) {
	env := setupServer(t)
	admin := env.createUser(t, "root", "s3cret", true)
	token := env.token(t, admin)

	// Trigger through the API, then read the trail back through it
	rec := env.do(t, http.MethodPost, "/api/v1/jobs/1/trigger", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, env.recorder.records, 1)

	insertAuditRow(t, env, *env.recorder.records[0])

	search := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/audit?user_id=%d", admin.ID), token, nil)
	require.Equal(t, http.StatusOK, search.Code)

	var resp AuditSearchResponse
	decodeBody(t, search, &resp)
	require.Equal(t, int64(1), resp.Total)
	assert.Equal(t, audit.ActionTrigger, resp.Records[0].Action)
	assert.Equal(t, "root", resp.Records[0].Username)
}
