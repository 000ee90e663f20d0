package scheduler

// Job is a scheduled job as reported by the external admin. Field names
// follow the admin's JSON wire format.
type Job struct {
	ID                     int64  `json:"id"`
	JobGroup               int64  `json:"jobGroup"`
	JobDesc                string `json:"jobDesc"`
	AddTime                string `json:"addTime,omitempty"`
	UpdateTime             string `json:"updateTime,omitempty"`
	Author                 string `json:"author,omitempty"`
	AlarmEmail             string `json:"alarmEmail,omitempty"`
	ScheduleType           string `json:"scheduleType"`
	ScheduleConf           string `json:"scheduleConf"`
	MisfireStrategy        string `json:"misfireStrategy"`
	ExecutorRouteStrategy  string `json:"executorRouteStrategy"`
	ExecutorHandler        string `json:"executorHandler"`
	ExecutorParam          string `json:"executorParam,omitempty"`
	ExecutorBlockStrategy  string `json:"executorBlockStrategy"`
	ExecutorTimeout        int    `json:"executorTimeout"`
	ExecutorFailRetryCount int    `json:"executorFailRetryCount"`
	GlueType               string `json:"glueType"`
	GlueSource             string `json:"glueSource,omitempty"`
	GlueRemark             string `json:"glueRemark,omitempty"`
	ChildJobID             string `json:"childJobId,omitempty"`
	TriggerStatus          int    `json:"triggerStatus"`
	TriggerLastTime        int64  `json:"triggerLastTime,omitempty"`
	TriggerNextTime        int64  `json:"triggerNextTime,omitempty"`
}

// Group is an executor group (an "appname" the jobs belong to)
type Group struct {
	ID          int64  `json:"id"`
	AppName     string `json:"appname"`
	Title       string `json:"title"`
	AddressType int    `json:"addressType"`
	AddressList string `json:"addressList,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`
}

// LogEntry is one job execution record
type LogEntry struct {
	ID                     int64  `json:"id"`
	JobGroup               int64  `json:"jobGroup"`
	JobID                  int64  `json:"jobId"`
	ExecutorAddress        string `json:"executorAddress,omitempty"`
	ExecutorHandler        string `json:"executorHandler,omitempty"`
	ExecutorParam          string `json:"executorParam,omitempty"`
	ExecutorShardingParam  string `json:"executorShardingParam,omitempty"`
	ExecutorFailRetryCount int    `json:"executorFailRetryCount"`
	TriggerTime            string `json:"triggerTime,omitempty"`
	TriggerCode            int    `json:"triggerCode"`
	TriggerMsg             string `json:"triggerMsg,omitempty"`
	HandleTime             string `json:"handleTime,omitempty"`
	HandleCode             int    `json:"handleCode"`
	HandleMsg              string `json:"handleMsg,omitempty"`
	AlarmStatus            int    `json:"alarmStatus"`
}

// LogDetail is a chunk of a job's console output, read incrementally
type LogDetail struct {
	FromLineNum int    `json:"fromLineNum"`
	ToLineNum   int    `json:"toLineNum"`
	LogContent  string `json:"logContent"`
	End         bool   `json:"end"`
}

// JobPage is the admin's paginated job listing
type JobPage struct {
	RecordsTotal    int64 `json:"recordsTotal"`
	RecordsFiltered int64 `json:"recordsFiltered"`
	Data            []Job `json:"data"`
}

// GroupPage is the admin's paginated group listing
type GroupPage struct {
	RecordsTotal    int64   `json:"recordsTotal"`
	RecordsFiltered int64   `json:"recordsFiltered"`
	Data            []Group `json:"data"`
}

// LogPage is the admin's paginated execution log listing
type LogPage struct {
	RecordsTotal    int64      `json:"recordsTotal"`
	RecordsFiltered int64      `json:"recordsFiltered"`
	Data            []LogEntry `json:"data"`
}

// ListJobsParams filters a job listing. JobGroup -1 means all groups,
// TriggerStatus -1 means any status.
type ListJobsParams struct {
	JobGroup        int64
	TriggerStatus   int
	JobDesc         string
	ExecutorHandler string
	Author          string
	Start           int
	Length          int
}

// ListLogsParams filters an execution log listing. LogStatus 0 means all,
// 1 success, 2 failed, 3 running.
type ListLogsParams struct {
	JobGroup   int64
	JobID      int64
	LogStatus  int
	FilterTime string
	Start      int
	Length     int
}

// UpdateJobParams carries the editable job fields. Pointer fields are
// omitted from the request when nil, leaving the admin's value untouched.
type UpdateJobParams struct {
	ID                     int64
	JobGroup               *int64
	JobDesc                *string
	Author                 *string
	AlarmEmail             *string
	ScheduleType           *string
	ScheduleConf           *string
	MisfireStrategy        *string
	ExecutorRouteStrategy  *string
	ExecutorHandler        *string
	ExecutorParam          *string
	ExecutorBlockStrategy  *string
	ExecutorTimeout        *int
	ExecutorFailRetryCount *int
	GlueType               *string
	GlueSource             *string
	GlueRemark             *string
	ChildJobID             *string
}
