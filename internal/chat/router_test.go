package chat

import (
	"reflect"
	"testing"
)

func TestWorkersForTiers(t *testing.T) {
	cases := []struct {
		turn int
		want []Worker
	}{
		{1, []Worker{WorkerMemory}},
		{2, []Worker{WorkerMemory}},
		{3, []Worker{WorkerQuests, WorkerMemory}},
		{9, []Worker{WorkerQuests, WorkerMemory}},
		{10, []Worker{WorkerQuests, WorkerProfile, WorkerMemory}},
		{42, []Worker{WorkerQuests, WorkerProfile, WorkerMemory}},
	}
	for _, c := range cases {
		if got := WorkersFor(c.turn); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("WorkersFor(%d) = %v, want %v", c.turn, got, c.want)
		}
	}
}

func TestMemoryAlwaysRuns(t *testing.T) {
	for turn := 1; turn <= 20; turn++ {
		found := false
		for _, w := range WorkersFor(turn) {
			if w == WorkerMemory {
				found = true
			}
		}
		if !found {
			t.Fatalf("turn %d: memory worker missing", turn)
		}
	}
}

func TestNextStage(t *testing.T) {
	cases := map[string]string{
		StageStranger:     StageAcquaintance,
		StageAcquaintance: StageFriend,
		StageFriend:       StageCloseFriend,
		StageCloseFriend:  StagePartner,
		StagePartner:      StagePartner,
		"garbage":         "garbage",
	}
	for current, want := range cases {
		if got := NextStage(current); got != want {
			t.Fatalf("NextStage(%q) = %q, want %q", current, got, want)
		}
	}
}

func TestClamping(t *testing.T) {
	if got := clampAffection(120); got != 100 {
		t.Fatalf("clampAffection(120) = %d", got)
	}
	if got := clampAffection(-5); got != 0 {
		t.Fatalf("clampAffection(-5) = %d", got)
	}
	if got := clampAffection(80); got != 80 {
		t.Fatalf("clampAffection(80) = %d", got)
	}
}
