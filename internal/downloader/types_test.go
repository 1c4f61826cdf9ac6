package downloader

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskWaitReturnsErrOnFailure(t *testing.T) {
	task := newTask(context.Background(), FileInfo{Key: FileKey{Kind: KindMedia, ID: "1"}})
	wantErr := errors.New("boom")
	go task.finish(wantErr)

	if err := task.Wait(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Wait() = %v, want %v", err, wantErr)
	}
	if task.State() != StateFailed {
		t.Fatalf("state = %v, want failed", task.State())
	}
}

func TestTaskWaitCancelledByContext(t *testing.T) {
	task := newTask(context.Background(), FileInfo{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := task.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want context.DeadlineExceeded", err)
	}
}

func TestTaskFinishIsIdempotent(t *testing.T) {
	task := newTask(context.Background(), FileInfo{})
	task.finish(nil)
	task.finish(errors.New("second call should be ignored"))
	if task.Err() != nil {
		t.Fatalf("first finish() call should win, got %v", task.Err())
	}
	if task.State() != StateComplete {
		t.Fatalf("state = %v, want complete", task.State())
	}
}

func TestProgressPercent(t *testing.T) {
	p := Progress{Downloaded: 25, Total: 100}
	if got := p.Percent(); got != 25 {
		t.Errorf("Percent() = %v, want 25", got)
	}
	unknown := Progress{Downloaded: 10, Total: 0}
	if got := unknown.Percent(); got != 0 {
		t.Errorf("Percent() with unknown total = %v, want 0", got)
	}
}

func TestChunkRangeLen(t *testing.T) {
	c := ChunkRange{Start: 10, End: 19}
	if c.Len() != 10 {
		t.Errorf("Len() = %d, want 10", c.Len())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StatePending:  "pending",
		StateRunning:  "running",
		StateComplete: "complete",
		StateFailed:   "failed",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
