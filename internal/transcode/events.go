package transcode

// Event is one transcoder lifecycle notification. The set of variants is
// closed; consumers dispatch on the concrete type.
type Event interface {
	// Kind returns a stable label for logging and metrics.
	Kind() string
}

// Started reports the resolved process invocation.
type Started struct {
	Args []string
}

func (Started) Kind() string { return "started" }

// Progress carries one sampled encoder progress line. Sampling keeps steady
// frame-by-frame output from flooding logs.
type Progress struct {
	Line string
}

func (Progress) Kind() string { return "progress" }

// Severity classes for diagnostic output.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic carries one classified line of subprocess side-channel output.
type Diagnostic struct {
	Severity Severity
	Line     string
}

func (Diagnostic) Kind() string { return "diagnostic" }

// Exited reports process completion. Err is nil on normal completion and
// holds the terminal error otherwise.
type Exited struct {
	Err error
}

func (Exited) Kind() string { return "exited" }

// Handler consumes lifecycle events. It is invoked from the supervisor's
// monitoring goroutine, one event at a time.
type Handler func(Event)
