package audithook

// Actions, one per lifecycle hook.
const (
	ActionJobEnqueued    = "job.enqueued"
	ActionJobStarted     = "job.started"
	ActionJobSucceeded   = "job.succeeded"
	ActionJobReleased    = "job.released"
	ActionJobDeleted     = "job.deleted"
	ActionJobRetrying    = "job.retrying"
	ActionJobDead        = "job.dead"
	ActionScheduleFired  = "schedule.fired"
	ActionEngineShutdown = "engine.shutdown"
)

// Resource types.
const (
	ResourceJob      = "job"
	ResourceSchedule = "schedule"
	ResourceEngine   = "engine"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action the extension emits.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobReleased,
		ActionJobDeleted,
		ActionJobRetrying,
		ActionJobDead,
		ActionScheduleFired,
		ActionEngineShutdown,
	}
}
