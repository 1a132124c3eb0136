package expand

import "github.com/sells-group/placefinder/internal/model"

// Status is the coarse progress state reported with every Event.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Event is a progress notification. The set of implementations is closed:
// SearchStarted, StepStarted, StepCompleted, StepFailed, Expanding,
// Completed and Failed.
type Event interface {
	StepIndex() int
	Status() Status
	ResultCount() int
	event()
}

// Observer receives progress events synchronously from the search loop.
type Observer func(Event)

// SearchStarted opens a run.
type SearchStarted struct {
	Radius float64
	Target int
}

// StepStarted is emitted before each attempt's network call.
type StepStarted struct {
	Step   int
	Radius float64
	Center model.LatLng
	Count  int
}

// StepCompleted closes a successful attempt.
type StepCompleted struct {
	Step   int
	Radius float64
	New    int
	Count  int
	Cached bool
}

// StepFailed closes an attempt whose call errored or timed out.
type StepFailed struct {
	Step   int
	Radius float64
	Count  int
	Err    error
}

// Expanding announces the radius for the next attempt.
type Expanding struct {
	Step       int
	FromRadius float64
	ToRadius   float64
	Count      int
}

// Completed ends a run that gathered at least one candidate.
type Completed struct {
	Attempts int
	Radius   float64
	Count    int
	Target   int
}

// Shortfall reports whether the run ended below its gather target.
func (e Completed) Shortfall() bool { return e.Count < e.Target }

// Failed ends a run with nothing to show.
type Failed struct {
	Attempts int
	Count    int
	Err      error
}

func (SearchStarted) StepIndex() int   { return 0 }
func (SearchStarted) Status() Status   { return StatusInProgress }
func (SearchStarted) ResultCount() int { return 0 }
func (SearchStarted) event()           {}

func (e StepStarted) StepIndex() int   { return e.Step }
func (StepStarted) Status() Status     { return StatusInProgress }
func (e StepStarted) ResultCount() int { return e.Count }
func (StepStarted) event()             {}

func (e StepCompleted) StepIndex() int   { return e.Step }
func (StepCompleted) Status() Status     { return StatusCompleted }
func (e StepCompleted) ResultCount() int { return e.Count }
func (StepCompleted) event()             {}

func (e StepFailed) StepIndex() int   { return e.Step }
func (StepFailed) Status() Status     { return StatusFailed }
func (e StepFailed) ResultCount() int { return e.Count }
func (StepFailed) event()             {}

func (e Expanding) StepIndex() int   { return e.Step }
func (Expanding) Status() Status     { return StatusInProgress }
func (e Expanding) ResultCount() int { return e.Count }
func (Expanding) event()             {}

func (e Completed) StepIndex() int   { return e.Attempts - 1 }
func (Completed) Status() Status     { return StatusCompleted }
func (e Completed) ResultCount() int { return e.Count }
func (Completed) event()             {}

func (e Failed) StepIndex() int   { return e.Attempts - 1 }
func (Failed) Status() Status     { return StatusFailed }
func (e Failed) ResultCount() int { return e.Count }
func (Failed) event()             {}

// EventName returns a stable snake_case name for e, used in logs and the
// HTTP/CLI event streams.
func EventName(e Event) string {
	switch e.(type) {
	case SearchStarted:
		return "search_started"
	case StepStarted:
		return "step_started"
	case StepCompleted:
		return "step_completed"
	case StepFailed:
		return "step_failed"
	case Expanding:
		return "expanding"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
