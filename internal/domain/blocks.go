package domain

// BlockStatus holds the two directions of a block independently.
type BlockStatus struct {
	IsBlocked   bool `json:"isBlocked"`
	IsBlockedBy bool `json:"isBlockedBy"`
}

type BlockRelation int

const (
	BlockNone BlockRelation = iota
	BlockOutgoing
	BlockIncoming
	BlockMutual
)

func (s BlockStatus) Relation() BlockRelation {
	switch {
	case s.IsBlocked && s.IsBlockedBy:
		return BlockMutual
	case s.IsBlocked:
		return BlockOutgoing
	case s.IsBlockedBy:
		return BlockIncoming
	default:
		return BlockNone
	}
}

// Any reports whether a block exists in either direction.
func (s BlockStatus) Any() bool { return s.IsBlocked || s.IsBlockedBy }

func (r BlockRelation) String() string {
	switch r {
	case BlockOutgoing:
		return "outgoing"
	case BlockIncoming:
		return "incoming"
	case BlockMutual:
		return "mutual"
	default:
		return "none"
	}
}
