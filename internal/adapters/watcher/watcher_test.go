package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{
			name:     "Remove returns OpDelete",
			op:       fsnotify.Remove,
			expected: OpDelete,
		},
		{
			name:     "Rename returns OpDelete",
			op:       fsnotify.Rename,
			expected: OpDelete,
		},
		{
			name:     "Create returns OpCreate",
			op:       fsnotify.Create,
			expected: OpCreate,
		},
		{
			name:     "Write returns OpModify",
			op:       fsnotify.Write,
			expected: OpModify,
		},
		{
			name:     "Chmod returns OpModify",
			op:       fsnotify.Chmod,
			expected: OpModify,
		},
		{
			name:     "Remove takes precedence over Write",
			op:       fsnotify.Remove | fsnotify.Write,
			expected: OpDelete,
		},
		{
			name:     "Rename takes precedence over Create",
			op:       fsnotify.Rename | fsnotify.Create,
			expected: OpDelete,
		},
		{
			name:     "Create takes precedence over Write",
			op:       fsnotify.Create | fsnotify.Write,
			expected: OpCreate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := fsnotifyOpToOperation(tt.op)
			if result != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, result, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.op.String(); got != tt.expected {
				t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWatcher(t *testing.T, files []string, handler Handler) *Watcher {
	t.Helper()

	w, err := New(Config{Files: files, Debounce: 50 * time.Millisecond}, handler, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestUpdatePendingEvent(t *testing.T) {
	tests := []struct {
		name     string
		existing Operation
		next     Operation
		expected Operation
	}{
		{"modify after modify", OpModify, OpModify, OpModify},
		{"delete wins", OpModify, OpDelete, OpDelete},
		{"create after delete", OpDelete, OpCreate, OpCreate},
		{"write after delete", OpDelete, OpModify, OpCreate},
	}

	w := &Watcher{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pendingEvent{op: tt.existing}
			w.updatePendingEvent(p, tt.next)
			if p.op != tt.expected {
				t.Errorf("op = %v, want %v", p.op, tt.expected)
			}
		})
	}
}

func TestHandleFsEventFiltersFiles(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "products.txt")
	w := newTestWatcher(t, []string{list}, func(context.Context, Event) error { return nil })

	w.handleFsEvent(fsnotify.Event{Name: filepath.Join(dir, "other.txt"), Op: fsnotify.Write})
	w.handleFsEvent(fsnotify.Event{Name: list, Op: fsnotify.Write})

	if len(w.pending) != 1 {
		t.Fatalf("pending = %v, want only the product list", w.pending)
	}
	if _, ok := w.pending[list]; !ok {
		t.Error("product list change should be pending")
	}
}

func TestProcessPendingDebounces(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "products.txt")
	w := newTestWatcher(t, []string{list}, func(context.Context, Event) error { return nil })

	w.handleFsEvent(fsnotify.Event{Name: list, Op: fsnotify.Write})
	changed := w.pending[list].timestamp

	w.processPending(changed.Add(10 * time.Millisecond))
	if len(w.due) != 0 {
		t.Fatal("event should still be debouncing")
	}

	w.processPending(changed.Add(time.Second))
	if len(w.due) != 1 {
		t.Fatal("settled event should be queued")
	}
	if e := <-w.due; e.Path != list || e.Operation != OpModify {
		t.Errorf("event = %+v", e)
	}
}

func TestProcessPendingCoalesces(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "products.txt")
	w := newTestWatcher(t, []string{list}, func(context.Context, Event) error { return nil })

	for i := 0; i < 3; i++ {
		w.handleFsEvent(fsnotify.Event{Name: list, Op: fsnotify.Write})
		w.processPending(time.Now().Add(time.Second))
	}

	if len(w.due) != 1 {
		t.Errorf("queued runs = %d, want 1", len(w.due))
	}
}

func TestWatcherRunsHandlerOnChange(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "products.txt")
	if err := os.WriteFile(list, []byte("A.SAFE\n"), 0o600); err != nil {
		t.Fatalf("write list: %v", err)
	}

	var mu sync.Mutex
	var events []Event
	done := make(chan struct{}, 1)
	w := newTestWatcher(t, []string{list}, func(_ context.Context, e Event) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	if err := os.WriteFile(list, []byte("A.SAFE\nB.SAFE\n"), 0o600); err != nil {
		t.Fatalf("rewrite list: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, e := range events {
		if e.Path != list {
			t.Errorf("unexpected event for %s", e.Path)
		}
	}
}
