package chat

// Relationship stages in ladder order. A cleared advancement quest moves
// the relationship up exactly one rung; there is no path back down.
const (
	StageStranger     = "stranger"
	StageAcquaintance = "acquaintance"
	StageFriend       = "friend"
	StageCloseFriend  = "close_friend"
	StagePartner      = "partner"
)

var stageLadder = []string{
	StageStranger,
	StageAcquaintance,
	StageFriend,
	StageCloseFriend,
	StagePartner,
}

// NextStage returns the rung above the current stage. The top rung and any
// unrecognized value are returned unchanged.
func NextStage(current string) string {
	for i, stage := range stageLadder {
		if stage == current {
			if i+1 < len(stageLadder) {
				return stageLadder[i+1]
			}
			return current
		}
	}
	return current
}
