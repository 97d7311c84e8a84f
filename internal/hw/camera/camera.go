// Package camera defines the blob-capture adapter consumed by the
// calibration executor. The vision pipeline itself (frame decoding, blob
// detection) lives behind this boundary.
package camera

import (
	"context"
	"sync"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
)

// Params configures one capture request.
type Params struct {
	Timeout time.Duration

	// Expected is the position the blob should appear at, when known.
	// Detectors use it to reject stray blobs.
	Expected *grid.Position

	// MaxDistance is the largest accepted normalized distance between
	// the detected blob and Expected.
	MaxDistance float64
}

// Adapter requests one blob measurement. Returning (nil, nil) means
// "no blob found", distinct from an error (hard detector failure).
type Adapter interface {
	Capture(ctx context.Context, p Params) (*grid.BlobMeasurement, error)
}

// Outcome scripts one Fake capture result.
type Outcome struct {
	Measurement *grid.BlobMeasurement
	Err         error
}

// Fake is a scripted Adapter for tests: each Capture consumes the next
// outcome from the queue. Once the queue is exhausted, Default is
// returned (a nil Default means "no blob").
type Fake struct {
	mu      sync.Mutex
	queue   []Outcome
	Default *grid.BlobMeasurement
	calls   []Params
}

// NewFake creates a fake with the given scripted outcomes.
func NewFake(outcomes ...Outcome) *Fake {
	return &Fake{queue: outcomes}
}

// Enqueue appends outcomes to the script.
func (f *Fake) Enqueue(outcomes ...Outcome) {
	f.mu.Lock()
	f.queue = append(f.queue, outcomes...)
	f.mu.Unlock()
}

func (f *Fake) Capture(ctx context.Context, p Params) (*grid.BlobMeasurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if len(f.queue) == 0 {
		return f.Default, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.Measurement, next.Err
}

// Calls returns every capture request seen so far.
func (f *Fake) Calls() []Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Params, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of captures requested.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Simulator is a development Adapter that reports a blob exactly at the
// expected position. It lets full calibration runs complete against mock
// motors, the vision analog of the mock GPIO driver.
type Simulator struct {
	Size float64 // reported blob size; 0 defaults to 0.1
}

func (s *Simulator) Capture(ctx context.Context, p Params) (*grid.BlobMeasurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	pos := grid.Position{}
	if p.Expected != nil {
		pos = *p.Expected
	}
	size := s.Size
	if size == 0 {
		size = 0.1
	}
	return &grid.BlobMeasurement{
		X:          pos.X,
		Y:          pos.Y,
		Size:       size,
		Response:   1,
		CapturedAt: time.Now(),
	}, nil
}
