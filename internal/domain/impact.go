package domain

// TargetKind classifies damaged entity.
type TargetKind string

const (
	// TargetPlayer is a connected player.
	TargetPlayer TargetKind = "player"
	// TargetOwnedStructure is an entity with non-zero owner.
	TargetOwnedStructure TargetKind = "owned_structure"
	// TargetOther is any unowned non-player entity.
	TargetOther TargetKind = "other"
)

// ImpactRecord is ephemeral classification of one attributed damage event.
type ImpactRecord struct {
	TargetKind  TargetKind `json:"target_kind"`
	TargetLabel string     `json:"target_label"`
	OwnerLabel  string     `json:"owner_label,omitempty"`
	Damage      float64    `json:"damage"`
	Weapon      string     `json:"weapon,omitempty"`
	Position    Vec3       `json:"position"`
	Handle      Handle     `json:"handle"`
	EventID     string     `json:"event_id,omitempty"`
}
