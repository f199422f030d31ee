package metrics

// ResultLabel enumerates result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultWarning ResultLabel = "warning"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// Timer lifecycle events.
const (
	TimerCreated   = "created"
	TimerSnoozed   = "snoozed"
	TimerCancelled = "cancelled"
	TimerExpired   = "expired"
	TimerPurged    = "purged"
)

// Recorder defines observability hooks for the timer engine, alarm repeater,
// menu manager and action router.
type Recorder interface {
	SetActiveTimers(n int)
	IncTimerEvent(event string)
	IncMenuWrite(result ResultLabel)
	IncMenuTransition(to string)
	IncAlarmSession(outcome string)
	IncAction(action string, result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) SetActiveTimers(int)           {}
func (NoopRecorder) IncTimerEvent(string)          {}
func (NoopRecorder) IncMenuWrite(ResultLabel)      {}
func (NoopRecorder) IncMenuTransition(string)      {}
func (NoopRecorder) IncAlarmSession(string)        {}
func (NoopRecorder) IncAction(string, ResultLabel) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
