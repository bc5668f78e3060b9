package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, m *Manager, id string, states ...State) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job := m.Get(id)
		if job == nil {
			t.Fatalf("job %s disappeared", id)
		}
		for _, s := range states {
			if job.State == s {
				return job
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %v", id, states)
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit("analysis", func(ctx context.Context) (string, error) {
		return "result-123", nil
	})

	job := waitFor(t, m, id, StateDone)
	if job.Result != "result-123" {
		t.Fatalf("result = %q, want result-123", job.Result)
	}
	if job.Error != "" {
		t.Fatalf("done job carries error %q", job.Error)
	}
	if job.FinishedAt.IsZero() {
		t.Fatal("done job has no finish time")
	}
	if job.Kind != "analysis" {
		t.Fatalf("kind = %q, want analysis", job.Kind)
	}
}

func TestSubmitRecordsFailure(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit("purification", func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})

	job := waitFor(t, m, id, StateFailed)
	if job.Error != "boom" {
		t.Fatalf("error = %q, want boom", job.Error)
	}
	if job.Result != "" {
		t.Fatalf("failed job carries result %q", job.Result)
	}
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(nil)
	if job := m.Get("nope"); job != nil {
		t.Fatalf("unknown id returned %+v", job)
	}
}

// Get returns a snapshot: mutating it must not leak into the manager.
func TestGetReturnsSnapshot(t *testing.T) {
	m := NewManager(nil)
	done := make(chan struct{})
	id := m.Submit("analysis", func(ctx context.Context) (string, error) {
		<-done
		return "ok", nil
	})

	job := m.Get(id)
	job.State = StateFailed
	if got := m.Get(id).State; got == StateFailed {
		t.Fatal("snapshot mutation leaked into the manager")
	}
	close(done)
	waitFor(t, m, id, StateDone)
}
