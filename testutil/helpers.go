package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/forest"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/spec"
)

// TestContext returns a context with a 30s timeout, cancelled on cleanup.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout returns a context with a custom timeout, cancelled
// on cleanup.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// TempForest creates a forest root under t.TempDir seeded with the given
// metadata frame. A nil frame seeds the root with fixture metadata written
// by the caller later.
func TempForest(t *testing.T, frame *metadata.Frame) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "forest")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("create forest root: %v", err)
	}
	if frame != nil {
		if err := frame.WriteTSVFile(filepath.Join(root, forest.MetaFileName)); err != nil {
			t.Fatalf("write root metadata: %v", err)
		}
	}
	return root
}

// WriteRunDir fabricates a completed run dir: run_spec.yaml snapshot,
// meta.tsv, and a _logs dir, the layout a successful run leaves behind.
// processDir is the root-relative process dir, e.g. "normalize" or
// "normalize/Ab3dEf12/cluster". It returns the absolute run dir.
func WriteRunDir(t *testing.T, root, processDir, runID string, rs *spec.RunSpec, frame *metadata.Frame) string {
	t.Helper()

	runDir := filepath.Join(root, filepath.FromSlash(processDir), runID)
	if err := os.MkdirAll(filepath.Join(runDir, forest.LogsDirName), 0o755); err != nil {
		t.Fatalf("create run dir: %v", err)
	}

	if rs != nil {
		data, err := spec.EncodeRunSpecYAML(rs)
		if err != nil {
			t.Fatalf("encode run spec: %v", err)
		}
		if err := os.WriteFile(filepath.Join(runDir, catalogue.RunSpecFileName), data, 0o644); err != nil {
			t.Fatalf("write run spec: %v", err)
		}
	}
	if frame != nil {
		if err := frame.WriteTSVFile(filepath.Join(runDir, forest.MetaFileName)); err != nil {
			t.Fatalf("write run metadata: %v", err)
		}
	}
	return runDir
}

// MarkIncomplete drops the INCOMPLETE marker into runDir, turning it into
// an in-flight or aborted run.
func MarkIncomplete(t *testing.T, runDir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(runDir, forest.IncompleteFileName), nil, 0o644); err != nil {
		t.Fatalf("write incomplete marker: %v", err)
	}
}

// MarkFailed writes a process error log into runDir's _logs dir, turning it
// into a failed run.
func MarkFailed(t *testing.T, runDir string) {
	t.Helper()
	logsDir := filepath.Join(runDir, forest.LogsDirName)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		t.Fatalf("create logs dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(logsDir, forest.ProcessErrFileName), []byte("process failed\n"), 0o644); err != nil {
		t.Fatalf("write process error log: %v", err)
	}
}

// WaitFor polls condition until it holds or the timeout passes.
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForChannel receives from ch or gives up after the timeout.
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// MustJSON marshals v to a JSON string, panicking on failure.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON unmarshals a JSON string, panicking on failure.
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
