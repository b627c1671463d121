package entity

import "time"

// BrakeState is the per-user kill switch
type BrakeState struct {
	UserID      string     `json:"user_id"`
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// InactiveBrake is the state of a user who never touched the brake
func InactiveBrake(userID string) *BrakeState {
	return &BrakeState{UserID: userID}
}
