package recorder

import "context"

// EventKind tags a StreamEvent
type EventKind int

const (
	// UnitText carries generated text counting as one unit; empty text is a heartbeat
	UnitText EventKind = iota
	// UnitsDelta carries an explicit unit count, possibly with text
	UnitsDelta
	// Finish marks the provider's end of generation with an optional reason
	Finish
	// Terminator is an explicit end-of-stream sentinel
	Terminator
	// Malformed is a frame that could not be decoded and is skipped
	Malformed
)

func (k EventKind) String() string {
	switch k {
	case UnitText:
		return "unit-text"
	case UnitsDelta:
		return "units-delta"
	case Finish:
		return "finish"
	case Terminator:
		return "terminator"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// StreamEvent is one canonical frame produced by a provider transport
type StreamEvent struct {
	Kind   EventKind
	Text   string
	Units  int
	Reason string
}

// UnitCount returns the number of units the event contributes
func (e StreamEvent) UnitCount() int {
	switch e.Kind {
	case UnitText:
		if e.Text == "" {
			return 0
		}
		return 1
	case UnitsDelta:
		return e.Units
	default:
		return 0
	}
}

// Text builds a unit-text event
func Text(s string) StreamEvent { return StreamEvent{Kind: UnitText, Text: s} }

// Delta builds a units-delta event
func Delta(k int, text string) StreamEvent { return StreamEvent{Kind: UnitsDelta, Units: k, Text: text} }

// Finished builds a finish-marker event
func Finished(reason string) StreamEvent { return StreamEvent{Kind: Finish, Reason: reason} }

// Done builds a terminator event
func Done() StreamEvent { return StreamEvent{Kind: Terminator} }

// Bad builds a malformed event
func Bad() StreamEvent { return StreamEvent{Kind: Malformed} }

// EventSource yields canonical events. Next returns io.EOF when the stream
// ends without a terminator; any other error is a transport failure.
type EventSource interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// CumulativeCounter turns cumulative unit totals into per-event deltas
type CumulativeCounter struct {
	last int
}

// Delta returns total minus the previous total, or 0 when total did not grow
func (c *CumulativeCounter) Delta(total int) int {
	if total <= c.last {
		return 0
	}
	d := total - c.last
	c.last = total
	return d
}

// Add advances the running total by units counted elsewhere, so a later
// cumulative total only yields what was not already reported
func (c *CumulativeCounter) Add(units int) {
	if units > 0 {
		c.last += units
	}
}
