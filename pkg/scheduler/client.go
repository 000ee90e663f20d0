package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jobgate/jobgate/pkg/config"
	"github.com/jobgate/jobgate/pkg/observability"
)

const groupCacheKey = "groups"

// apiResponse is the admin's standard envelope for action endpoints.
// Code 200 means success; anything else is an application error.
type apiResponse struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Content json.RawMessage `json:"content"`
}

// Client talks to the external job admin over its form-encoded HTTP API.
// It holds a session cookie obtained via /login and transparently
// re-authenticates once when the admin rejects the session.
type Client struct {
	baseURL    string
	username   string
	password   string
	fetchCap   int
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics

	mu     sync.Mutex
	cookie string

	groupCache *expirable.LRU[string, []Group]
}

// NewClient creates an admin client. It does not log in; call Login at
// startup (failure there is non-fatal, the first request retries it).
func NewClient(cfg config.SchedulerConfig, logger *observability.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		fetchCap: cfg.FetchCap,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// The admin redirects to the dashboard after login; the
				// Set-Cookie header lives on the first response.
				return http.ErrUseLastResponse
			},
		},
		logger:     logger,
		metrics:    metrics,
		groupCache: expirable.NewLRU[string, []Group](1, nil, cfg.GroupCacheTTL),
	}
}

// FetchCap is the largest page the client will request in one call
func (c *Client) FetchCap() int {
	return c.fetchCap
}

// Login authenticates against the admin and stores the session cookie
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("userName", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("%w: login returned status %d", ErrUnavailable, resp.StatusCode)
	}

	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return fmt.Errorf("%w: no session cookie received from login", ErrUnavailable)
	}

	parts := make([]string, 0, len(cookies))
	for _, raw := range cookies {
		if i := strings.Index(raw, ";"); i >= 0 {
			raw = raw[:i]
		}
		parts = append(parts, raw)
	}

	c.mu.Lock()
	c.cookie = strings.Join(parts, "; ")
	c.mu.Unlock()

	c.logger.Debug("Scheduler session established")
	return nil
}

// Ping verifies the admin is reachable with a valid session
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Groups(ctx)
	return err
}

// ListJobs fetches one page of jobs from the admin
func (c *Client) ListJobs(ctx context.Context, params ListJobsParams) (*JobPage, error) {
	form := url.Values{}
	form.Set("jobGroup", strconv.FormatInt(params.JobGroup, 10))
	form.Set("triggerStatus", strconv.Itoa(params.TriggerStatus))
	if params.JobDesc != "" {
		form.Set("jobDesc", params.JobDesc)
	}
	if params.ExecutorHandler != "" {
		form.Set("executorHandler", params.ExecutorHandler)
	}
	if params.Author != "" {
		form.Set("author", params.Author)
	}
	form.Set("start", strconv.Itoa(params.Start))
	form.Set("length", strconv.Itoa(params.Length))

	var page JobPage
	if err := c.postPage(ctx, "list_jobs", "/jobinfo/pageList", form, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetJob looks a job up by ID. The admin has no single-job endpoint, so
// this scans an unfiltered listing capped at FetchCap.
func (c *Client) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	page, err := c.ListJobs(ctx, ListJobsParams{
		JobGroup:      -1,
		TriggerStatus: -1,
		Length:        c.fetchCap,
	})
	if err != nil {
		return nil, err
	}

	for i := range page.Data {
		if page.Data[i].ID == jobID {
			return &page.Data[i], nil
		}
	}
	return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
}

// Groups lists executor groups. Results are cached briefly: groups change
// rarely and back both health checks and per-job group lookups.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	if groups, ok := c.groupCache.Get(groupCacheKey); ok {
		return groups, nil
	}

	form := url.Values{}
	form.Set("start", "0")
	form.Set("length", "100")

	var page GroupPage
	if err := c.postPage(ctx, "list_groups", "/jobgroup/pageList", form, &page); err != nil {
		return nil, err
	}

	c.groupCache.Add(groupCacheKey, page.Data)
	return page.Data, nil
}

// TriggerJob fires a job once, immediately
func (c *Client) TriggerJob(ctx context.Context, jobID int64, executorParam, addressList string) error {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(jobID, 10))
	if executorParam != "" {
		form.Set("executorParam", executorParam)
	}
	if addressList != "" {
		form.Set("addressList", addressList)
	}

	_, err := c.postAction(ctx, "trigger_job", "/jobinfo/trigger", form)
	return err
}

// StartJob enables a job's schedule
func (c *Client) StartJob(ctx context.Context, jobID int64) error {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(jobID, 10))

	_, err := c.postAction(ctx, "start_job", "/jobinfo/start", form)
	return err
}

// StopJob disables a job's schedule
func (c *Client) StopJob(ctx context.Context, jobID int64) error {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(jobID, 10))

	_, err := c.postAction(ctx, "stop_job", "/jobinfo/stop", form)
	return err
}

// UpdateJob changes a job's configuration. Nil fields are left out of
// the request.
func (c *Client) UpdateJob(ctx context.Context, params UpdateJobParams) error {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(params.ID, 10))
	setInt64(form, "jobGroup", params.JobGroup)
	setString(form, "jobDesc", params.JobDesc)
	setString(form, "author", params.Author)
	setString(form, "alarmEmail", params.AlarmEmail)
	setString(form, "scheduleType", params.ScheduleType)
	setString(form, "scheduleConf", params.ScheduleConf)
	setString(form, "misfireStrategy", params.MisfireStrategy)
	setString(form, "executorRouteStrategy", params.ExecutorRouteStrategy)
	setString(form, "executorHandler", params.ExecutorHandler)
	setString(form, "executorParam", params.ExecutorParam)
	setString(form, "executorBlockStrategy", params.ExecutorBlockStrategy)
	setInt(form, "executorTimeout", params.ExecutorTimeout)
	setInt(form, "executorFailRetryCount", params.ExecutorFailRetryCount)
	setString(form, "glueType", params.GlueType)
	setString(form, "glueSource", params.GlueSource)
	setString(form, "glueRemark", params.GlueRemark)
	setString(form, "childJobId", params.ChildJobID)

	_, err := c.postAction(ctx, "update_job", "/jobinfo/update", form)
	return err
}

// ListLogs fetches one page of execution logs
func (c *Client) ListLogs(ctx context.Context, params ListLogsParams) (*LogPage, error) {
	form := url.Values{}
	form.Set("jobGroup", strconv.FormatInt(params.JobGroup, 10))
	form.Set("jobId", strconv.FormatInt(params.JobID, 10))
	form.Set("logStatus", strconv.Itoa(params.LogStatus))
	if params.FilterTime != "" {
		form.Set("filterTime", params.FilterTime)
	}
	form.Set("start", strconv.Itoa(params.Start))
	form.Set("length", strconv.Itoa(params.Length))

	var page LogPage
	if err := c.postPage(ctx, "list_logs", "/joblog/pageList", form, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// LogDetail reads a chunk of a run's console output starting at the given
// line number
func (c *Client) LogDetail(ctx context.Context, logID int64, fromLineNum int, triggerTime int64) (*LogDetail, error) {
	form := url.Values{}
	form.Set("logId", strconv.FormatInt(logID, 10))
	form.Set("fromLineNum", strconv.Itoa(fromLineNum))
	form.Set("triggerTime", strconv.FormatInt(triggerTime, 10))

	content, err := c.postAction(ctx, "log_detail", "/joblog/logDetailCat", form)
	if err != nil {
		return nil, err
	}

	var detail LogDetail
	if err := json.Unmarshal(content, &detail); err != nil {
		return nil, fmt.Errorf("failed to decode log detail: %w", err)
	}
	return &detail, nil
}

// postPage posts a form and decodes the paginated listing response
func (c *Client) postPage(ctx context.Context, operation, path string, form url.Values, out interface{}) error {
	body, err := c.post(ctx, operation, path, form)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: unexpected response from %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// postAction posts a form, expects the {code,msg,content} envelope and
// returns content on code 200
func (c *Client) postAction(ctx context.Context, operation, path string, form url.Values) (json.RawMessage, error) {
	body, err := c.post(ctx, operation, path, form)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unexpected response from %s: %v", ErrUnavailable, path, err)
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("%w: %s returned code %d: %s", ErrUnavailable, path, resp.Code, resp.Msg)
	}
	return resp.Content, nil
}

// post performs a session-authenticated form POST. A 401 or 403 triggers
// exactly one re-login followed by one retry.
func (c *Client) post(ctx context.Context, operation, path string, form url.Values) ([]byte, error) {
	start := time.Now()
	body, status, err := c.doPost(ctx, path, form)

	if err == nil && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		c.logger.Warn("Scheduler session expired, re-authenticating")
		if c.metrics != nil {
			c.metrics.SchedulerRelogins.Inc()
		}

		if loginErr := c.Login(ctx); loginErr != nil {
			c.observe(operation, "error", start)
			return nil, loginErr
		}
		body, status, err = c.doPost(ctx, path, form)
	}

	if err != nil {
		c.observe(operation, "error", start)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if status != http.StatusOK {
		c.observe(operation, "error", start)
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnavailable, path, status)
	}

	c.observe(operation, "success", start)
	return body, nil
}

func (c *Client) doPost(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.mu.Lock()
	cookie := c.cookie
	c.mu.Unlock()
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observe(operation, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.SchedulerCallsTotal.WithLabelValues(operation, status).Inc()
	c.metrics.SchedulerCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func setString(form url.Values, key string, v *string) {
	if v != nil {
		form.Set(key, *v)
	}
}

func setInt(form url.Values, key string, v *int) {
	if v != nil {
		form.Set(key, strconv.Itoa(*v))
	}
}

func setInt64(form url.Values, key string, v *int64) {
	if v != nil {
		form.Set(key, strconv.FormatInt(*v, 10))
	}
}
