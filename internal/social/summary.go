package social

import "time"

// Summary is the read-only view of a user shown by admin surfaces.
type Summary struct {
	UserID               int64     `json:"user_id"`
	Username             string    `json:"username,omitempty"`
	DisplayName          string    `json:"display_name,omitempty"`
	Relationship         Level     `json:"relationship"`
	ResponseMultiplier   float64   `json:"response_multiplier"`
	Trust                float64   `json:"trust"`
	InteractionCount     int       `json:"interaction_count"`
	PositiveInteractions int       `json:"positive_interactions"`
	NegativeInteractions int       `json:"negative_interactions"`
	PositiveRate         float64   `json:"positive_rate"`
	Topics               []string  `json:"topics"`
	PreferredPersona     string    `json:"preferred_persona,omitempty"`
	BlockReason          string    `json:"block_reason,omitempty"`
	FirstInteraction     time.Time `json:"first_interaction,omitzero"`
	LastInteraction      time.Time `json:"last_interaction,omitzero"`
}

func (u *UserState) Summary() Summary {
	return Summary{
		UserID:               u.UserID,
		Username:             u.Username,
		DisplayName:          u.DisplayName,
		Relationship:         u.RelationshipValue().Level(),
		ResponseMultiplier:   u.RelationshipValue().ResponseMultiplier(),
		Trust:                u.Trust.Value(),
		InteractionCount:     u.InteractionCount,
		PositiveInteractions: u.PositiveInteractions,
		NegativeInteractions: u.NegativeInteractions,
		PositiveRate:         u.PositiveRate(),
		Topics:               u.Topics(),
		PreferredPersona:     u.PreferredPersona,
		BlockReason:          u.BlockReason,
		FirstInteraction:     u.FirstInteraction,
		LastInteraction:      u.LastInteraction,
	}
}
