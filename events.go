package monagent

// Priority of an event. Values other than the constants below are kept as
// received.
type Priority string

const (
	// PriNormal is normal priority.
	PriNormal Priority = "normal"
	// PriLow is low priority.
	PriLow Priority = "low"
)

func (p Priority) String() string {
	if p == "" {
		return string(PriNormal)
	}
	return string(p)
}

// AlertType is the type of alert. Values other than the constants below are
// kept as received.
type AlertType string

const (
	// AlertInfo is alert level "info".
	AlertInfo AlertType = "info"
	// AlertWarning is alert level "warning".
	AlertWarning AlertType = "warning"
	// AlertError is alert level "error".
	AlertError AlertType = "error"
	// AlertSuccess is alert level "success".
	AlertSuccess AlertType = "success"
)

func (a AlertType) String() string {
	if a == "" {
		return string(AlertInfo)
	}
	return string(a)
}

// Event is a discrete occurrence, either received over statsd
// (_e{title_len,text_len}:title|text|...) or raised by a check.
//
// The Has* flags record which optional attributes were actually provided, so
// that serialisation only includes those.
type Event struct {
	// Title of the event.
	Title string
	// Text of the event. Supports line breaks.
	Text string
	// DateHappened of the event. Unix epoch timestamp, zero means now.
	DateHappened int64
	// AggregationKey of the event, to group it with some other events.
	AggregationKey string
	// SourceTypeName of the event.
	SourceTypeName string
	// Hostname the event is about, defaults to the aggregator hostname.
	Hostname string
	// Dimensions of the event, sorted.
	Dimensions []string
	// Priority of the event.
	Priority Priority
	// AlertType of the event.
	AlertType AlertType

	HasPriority  bool
	HasAlertType bool
}
