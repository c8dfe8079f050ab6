package provisioning

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal printf-style logging surface.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Observer defines the interface for structured observability during fleet
// operations.
type Observer interface {
	Logger

	// Event emits a structured event
	Event(event Event)

	// Progress reports progress for a phase
	Progress(phase string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured fleet lifecycle event.
type Event struct {
	Type      EventType
	Phase     string
	Message   string
	Resource  string
	Timestamp time.Time
	Fields    map[string]string
}

// EventType represents the type of fleet lifecycle event.
type EventType string

const (
	// EventPhaseStarted indicates a lifecycle phase has started.
	EventPhaseStarted EventType = "phase.started"
	// EventPhaseCompleted indicates a lifecycle phase completed successfully.
	EventPhaseCompleted EventType = "phase.completed"
	// EventPhaseFailed indicates a lifecycle phase failed.
	EventPhaseFailed EventType = "phase.failed"

	// EventResourceCreating indicates a resource is being created.
	EventResourceCreating EventType = "resource.creating"
	// EventResourceCreated indicates a resource was created successfully.
	EventResourceCreated EventType = "resource.created"
	// EventResourceExists indicates a resource already exists.
	EventResourceExists EventType = "resource.exists"
	// EventResourceDeleting indicates a resource is being deleted.
	EventResourceDeleting EventType = "resource.deleting"
	// EventResourceDeleted indicates a resource was deleted successfully.
	EventResourceDeleted EventType = "resource.deleted"

	// EventValidationWarning indicates a configuration warning.
	EventValidationWarning EventType = "validation.warning"

	// EventProgress indicates progress in a long-running operation.
	EventProgress EventType = "progress"
)

// LogrusObserver implements Observer on top of a logrus logger.
type LogrusObserver struct {
	logger        logrus.FieldLogger
	contextFields map[string]string
}

// NewLogrusObserver creates an observer over the given logger.
func NewLogrusObserver(logger logrus.FieldLogger) *LogrusObserver {
	return &LogrusObserver{
		logger:        logger,
		contextFields: make(map[string]string),
	}
}

// Printf implements Logger.
func (o *LogrusObserver) Printf(format string, v ...interface{}) {
	o.entry().Infof(format, v...)
}

// Event implements Observer.
func (o *LogrusObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	entry := o.entry().WithField("event", string(event.Type))
	if event.Phase != "" {
		entry = entry.WithField("phase", event.Phase)
	}
	if event.Resource != "" {
		entry = entry.WithField("resource", event.Resource)
	}
	for k, v := range event.Fields {
		entry = entry.WithField(k, v)
	}

	switch event.Type {
	case EventPhaseFailed:
		entry.Error(event.Message)
	case EventValidationWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
}

// Progress implements Observer.
func (o *LogrusObserver) Progress(phase string, current, total int) {
	entry := o.entry().WithField("phase", phase)
	if total == 0 {
		entry.Infof("progress: %d/%d", current, total)
		return
	}
	entry.Infof("progress: %d/%d (%d%%)", current, total, (current*100)/total)
}

// WithFields implements Observer.
func (o *LogrusObserver) WithFields(fields map[string]string) Observer {
	newFields := make(map[string]string, len(o.contextFields)+len(fields))
	for k, v := range o.contextFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &LogrusObserver{
		logger:        o.logger,
		contextFields: newFields,
	}
}

func (o *LogrusObserver) entry() logrus.FieldLogger {
	entry := o.logger
	for k, v := range o.contextFields {
		entry = entry.WithField(k, v)
	}
	return entry
}

// LogPhaseStart logs a phase start event.
func LogPhaseStart(observer Observer, phase string) {
	observer.Event(Event{
		Type:    EventPhaseStarted,
		Phase:   phase,
		Message: "starting",
	})
}

// LogPhaseComplete logs a phase completion event.
func LogPhaseComplete(observer Observer, phase string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventPhaseCompleted,
		Phase:   phase,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogPhaseFailed logs a phase failure event.
func LogPhaseFailed(observer Observer, phase string, err error) {
	observer.Event(Event{
		Type:    EventPhaseFailed,
		Phase:   phase,
		Message: fmt.Sprintf("failed: %v", err),
	})
}

// LogWarning logs a configuration warning.
func LogWarning(observer Observer, phase, message string) {
	observer.Event(Event{
		Type:    EventValidationWarning,
		Phase:   phase,
		Message: message,
	})
}
