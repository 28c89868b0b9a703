// RecordingProcess is a process.Func factory that records every run it
// executes, for asserting which branches a tree actually launched.
package mocks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheAustinator/dataforest/forest"
	"github.com/TheAustinator/dataforest/process"
)

// ProcessCall records a single run of the process.
type ProcessCall struct {
	Process string
	RunDir  string
	Params  map[string]any
}

// RecordingProcess builds process funcs whose behavior is shaped with the
// With* methods. The zero behavior writes the run's metadata into the run
// dir, so runs complete successfully like a passthrough.
type RecordingProcess struct {
	mu sync.Mutex

	err       error
	delay     time.Duration
	fn        process.Func
	failAfter int

	calls     []ProcessCall
	callCount int
}

// NewRecordingProcess creates a process recorder with passthrough behavior.
func NewRecordingProcess() *RecordingProcess {
	return &RecordingProcess{}
}

// WithError makes every run return err.
func (p *RecordingProcess) WithError(err error) *RecordingProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// WithDelay makes every run sleep before returning.
func (p *RecordingProcess) WithDelay(d time.Duration) *RecordingProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// WithFunc delegates the run body to fn after recording.
func (p *RecordingProcess) WithFunc(fn process.Func) *RecordingProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
	return p
}

// WithFailAfter makes runs fail after the nth call.
func (p *RecordingProcess) WithFailAfter(n int) *RecordingProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAfter = n
	return p
}

// Func returns the process func to register.
func (p *RecordingProcess) Func() process.Func {
	return func(ctx context.Context, run process.Run) error {
		p.mu.Lock()
		p.callCount++
		count := p.callCount
		p.calls = append(p.calls, ProcessCall{
			Process: run.Process(),
			RunDir:  run.OutputDir(),
			Params:  run.Params(),
		})
		err := p.err
		delay := p.delay
		fn := p.fn
		failAfter := p.failAfter
		p.mu.Unlock()

		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if failAfter > 0 && count > failAfter {
			return errors.New("recording process: configured to fail after N calls")
		}
		if err != nil {
			return err
		}
		if fn != nil {
			return fn(ctx, run)
		}
		return run.Meta().WriteTSVFile(filepath.Join(run.OutputDir(), forest.MetaFileName))
	}
}

// GetCalls returns all recorded runs.
func (p *RecordingProcess) GetCalls() []ProcessCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProcessCall{}, p.calls...)
}

// GetCallCount returns the number of recorded runs.
func (p *RecordingProcess) GetCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// GetLastCall returns the most recent run, or nil before the first.
func (p *RecordingProcess) GetLastCall() *ProcessCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	call := p.calls[len(p.calls)-1]
	return &call
}

// Reset clears recorded runs and configured behavior.
func (p *RecordingProcess) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.callCount = 0
	p.err = nil
	p.delay = 0
	p.fn = nil
	p.failAfter = 0
}
