package status

import (
	"testing"
	"time"
)

func newTestMonitor(now time.Time) (*Monitor, *time.Time) {
	clock := now
	m := New()
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestRegisterWorker_StartsSpawning(t *testing.T) {
	base := time.Now()
	m, _ := newTestMonitor(base)
	m.RegisterWorker("w1", "task-a")

	got, ok := m.Get("w1")
	if !ok {
		t.Fatal("expected worker registered")
	}
	if got.State != StateSpawning {
		t.Fatalf("expected SPAWNING, got %s", got.State)
	}
	if got.Progress != 5 {
		t.Fatalf("expected progress 5, got %d", got.Progress)
	}
}

// TestHealthClassification is spec.md testable property 6.
func TestHealthClassification(t *testing.T) {
	base := time.Now()
	m, clock := newTestMonitor(base)
	m.RegisterWorker("w1", "task-a")
	m.UpdateState("w1", StateRunning, "", "")

	*clock = base.Add(30 * time.Second)
	got, _ := m.Get("w1")
	if got.Health != HealthHealthy {
		t.Fatalf("at 30s expected HEALTHY, got %s", got.Health)
	}

	*clock = base.Add(31 * time.Second)
	got, _ = m.Get("w1")
	if got.Health != HealthIdle {
		t.Fatalf("at 31s expected IDLE, got %s", got.Health)
	}

	*clock = base.Add(121 * time.Second)
	got, _ = m.Get("w1")
	if got.Health != HealthStalled {
		t.Fatalf("at 121s expected STALLED, got %s", got.Health)
	}
}

func TestHealthClassification_TerminalAlwaysHealthy(t *testing.T) {
	base := time.Now()
	m, clock := newTestMonitor(base)
	m.RegisterWorker("w1", "task-a")
	m.UpdateState("w1", StateCompleted, "", "")

	*clock = base.Add(200 * time.Second)
	got, _ := m.Get("w1")
	if got.Health != HealthHealthy {
		t.Fatalf("expected terminal worker to report HEALTHY, got %s", got.Health)
	}
}

func TestUpdateState_TerminalIsIdempotent(t *testing.T) {
	base := time.Now()
	m, clock := newTestMonitor(base)
	m.RegisterWorker("w1", "task-a")
	m.UpdateState("w1", StateRunning, "", "")

	*clock = base.Add(10 * time.Second)
	m.UpdateState("w1", StateCompleted, "", "")
	first, _ := m.Get("w1")
	firstCompletedAt := *first.CompletedAt

	*clock = base.Add(20 * time.Second)
	m.UpdateState("w1", StateError, "", "boom") // should be a no-op, already terminal
	second, _ := m.Get("w1")

	if second.State != StateCompleted {
		t.Fatalf("expected state to remain COMPLETED, got %s", second.State)
	}
	if !second.CompletedAt.Equal(firstCompletedAt) {
		t.Fatalf("expected completed_at set exactly once, got %v then %v", firstCompletedAt, *second.CompletedAt)
	}
	if second.Progress != 100 {
		t.Fatalf("expected progress frozen at 100, got %d", second.Progress)
	}
}

func TestProgress_FrozenOnErrorAtLastObservedValue(t *testing.T) {
	base := time.Now()
	m, _ := newTestMonitor(base)
	m.RegisterWorker("w1", "task-a")
	m.UpdateState("w1", StateRunning, "", "")
	m.UpdateOutputMetrics("w1", 100)

	before, _ := m.Get("w1")
	m.UpdateState("w1", StateError, "", "crashed")
	after, _ := m.Get("w1")

	if after.Progress != before.Progress {
		t.Fatalf("expected progress frozen at %d, got %d", before.Progress, after.Progress)
	}
}

func TestGetSummary_EmptyRegistryReturnsZeroWithoutAverages(t *testing.T) {
	m := New()
	s := m.GetSummary()
	if s.TotalWorkers != 0 || s.HasAverages {
		t.Fatalf("expected zero-valued summary with no averages, got %+v", s)
	}
}

func TestGetSummary_AggregatesAcrossWorkers(t *testing.T) {
	base := time.Now()
	m, _ := newTestMonitor(base)
	m.RegisterWorker("w1", "a")
	m.RegisterWorker("w2", "b")
	m.UpdateState("w1", StateCompleted, "", "")
	m.UpdateState("w2", StateRunning, "", "")

	s := m.GetSummary()
	if !s.HasAverages {
		t.Fatal("expected averages present")
	}
	if s.TotalWorkers != 2 || s.CompletedWorkers != 1 || s.ActiveWorkers != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

// TestStalledWorkerSurfacesInSummary is spec.md scenario F: a stalled
// worker's health is STALLED and it is still counted as active.
func TestStalledWorkerSurfacesInSummary(t *testing.T) {
	base := time.Now()
	m, clock := newTestMonitor(base)
	m.RegisterWorker("w1", "a")
	m.UpdateState("w1", StateRunning, "", "")

	*clock = base.Add(150 * time.Second)
	got, _ := m.Get("w1")
	if got.Health != HealthStalled {
		t.Fatalf("expected STALLED, got %s", got.Health)
	}

	s := m.GetSummary()
	if s.ActiveWorkers != 1 {
		t.Fatalf("expected stalled worker still counted active, got %+v", s)
	}
}

func TestRemove_DeletesWorker(t *testing.T) {
	m := New()
	m.RegisterWorker("w1", "a")
	m.Remove("w1")
	if _, ok := m.Get("w1"); ok {
		t.Fatal("expected worker removed")
	}
}
