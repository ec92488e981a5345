package chat

// Routing thresholds on the turn count after the current turn is included.
// Early turns carry too little signal for quest judgement, and profiles
// only start forming once a conversation has real length.
const (
	questThreshold   = 3
	profileThreshold = 10
)

// WorkersFor selects the secondary workers for a turn. Memory extraction
// always runs; quest validation joins from turn 3 and profile updates from
// turn 10.
func WorkersFor(turnCount int) []Worker {
	switch {
	case turnCount < questThreshold:
		return []Worker{WorkerMemory}
	case turnCount < profileThreshold:
		return []Worker{WorkerQuests, WorkerMemory}
	default:
		return []Worker{WorkerQuests, WorkerProfile, WorkerMemory}
	}
}
