package recorder

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"llmlatencybench/internal/utils"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Trial is the timing series observed for one streamed request. All times are seconds.
type Trial struct {
	TTFT         float64
	HasTTFT      bool
	Latencies    []float64
	TotalTime    float64
	TotalUnits   int
	Text         string
	FinishReason string
}

// Throughput returns units per second, false when TotalTime is not positive
func (t Trial) Throughput() (float64, bool) {
	if t.TotalTime <= 0 {
		return 0, false
	}
	return float64(t.TotalUnits) / t.TotalTime, true
}

// Median of this trial's inter-unit latencies, 0 when there are none
func (t Trial) Median() float64 { return utils.Median(t.Latencies) }

// P95 of this trial's inter-unit latencies, 0 when there are none
func (t Trial) P95() float64 { return utils.P95(t.Latencies) }

// Dispatch opens the stream for one trial
type Dispatch func(ctx context.Context) (EventSource, error)

// Recorder measures a stream of canonical events
type Recorder struct {
	Clock Clock
	// OnUnits is called for every event that contributes units
	OnUnits func(units int, text string)
}

// New returns a recorder on the system clock
func New() *Recorder {
	return &Recorder{Clock: SystemClock{}}
}

func (r *Recorder) clock() Clock {
	if r.Clock == nil {
		return SystemClock{}
	}
	return r.Clock
}

// Record dispatches the request and consumes its events until a terminator,
// a finish marker or end of stream. Any dispatch or transport error discards
// everything observed so far and is returned as is.
func (r *Recorder) Record(ctx context.Context, dispatch Dispatch) (Trial, error) {
	clock := r.clock()
	t0 := clock.Now()

	src, err := dispatch(ctx)
	if err != nil {
		return Trial{}, err
	}
	defer src.Close()

	var (
		trial Trial
		prev  time.Time
		text  strings.Builder
	)

	for {
		if err := ctx.Err(); err != nil {
			return Trial{}, err
		}

		event, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Trial{}, err
		}

		now := clock.Now()

		switch event.Kind {
		case Malformed:
			continue
		case Terminator, Finish:
			trial.FinishReason = event.Reason
			trial.TotalTime = now.Sub(t0).Seconds()
			trial.Text = text.String()
			return trial, nil
		}

		k := event.UnitCount()
		if k <= 0 {
			continue
		}

		if !trial.HasTTFT {
			trial.TTFT = now.Sub(t0).Seconds()
			trial.HasTTFT = true
		} else {
			gap := now.Sub(prev).Seconds() / float64(k)
			for i := 0; i < k; i++ {
				trial.Latencies = append(trial.Latencies, gap)
			}
		}
		prev = now
		trial.TotalUnits += k
		text.WriteString(event.Text)

		if r.OnUnits != nil {
			r.OnUnits(k, event.Text)
		}
	}

	trial.TotalTime = clock.Now().Sub(t0).Seconds()
	trial.Text = text.String()
	return trial, nil
}

// Timed measures a blocking call in seconds
func Timed(ctx context.Context, clock Clock, fn func(ctx context.Context) error) (float64, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	start := clock.Now()
	if err := fn(ctx); err != nil {
		return 0, err
	}
	return clock.Now().Sub(start).Seconds(), nil
}
