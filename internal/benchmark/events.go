package benchmark

// EventType names a progress notification
type EventType string

const (
	EventState      EventType = "state"
	EventWarning    EventType = "warning"
	EventCooldown   EventType = "cooldown"
	EventTrialStart EventType = "trial_start"
	EventUnits      EventType = "units"
	EventTrialDone  EventType = "trial_done"
)

// Event is a progress notification. Fields that do not apply to a type are zero.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	State     State     `json:"state"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Trial     int       `json:"trial,omitempty"`
	Trials    int       `json:"trials,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Units     int       `json:"units,omitempty"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Observer receives events synchronously on the run goroutine
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans one event out to several observers
type Observers []Observer

func (obs Observers) OnEvent(e Event) {
	for _, o := range obs {
		if o != nil {
			o.OnEvent(e)
		}
	}
}
