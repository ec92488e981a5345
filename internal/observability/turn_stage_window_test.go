package observability

import "testing"

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageDialogue, 500)
	w.Observe(StageDialogue, 700)
	w.Observe(StageDialogue, 900)
	w.ObserveIndicator("worker_failed_quests")
	w.ObserveIndicator("worker_failed_quests")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageDialogue {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageDialogue)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want 2", snap.Indicators[0].Count)
	}
}

func TestTurnStageWindowWrapsRing(t *testing.T) {
	w := newTurnStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageCommit, float64(100+i))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %d, want 4 after wrap", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 109 {
		t.Fatalf("LastMS = %.2f, want 109", snap.Stages[0].LastMS)
	}
}
