package entity

import (
	"fmt"
	"strings"
	"time"
)

// AutonomyLevel is how much an agent may act without human sign-off
type AutonomyLevel int

const (
	// L0 suggestions only
	L0 AutonomyLevel = iota
	// L1 drafts generated but not auto-sent
	L1
	// L2 drafts auto-generated and auto-queued for approval
	L2
	// L3 autonomous execution, outreach excepted
	L3
)

// DefaultAutonomyLevel applies when neither the user nor an org configured anything
const DefaultAutonomyLevel = L1

// MaxAutonomyLevel is the ceiling for users outside any organization
const MaxAutonomyLevel = L3

// IsValid reports whether the level is within L0..L3
func (l AutonomyLevel) IsValid() bool {
	return l >= L0 && l <= L3
}

// String returns the L-prefixed form
func (l AutonomyLevel) String() string {
	return fmt.Sprintf("L%d", int(l))
}

// ParseAutonomyLevel accepts "L0".."L3" (case-insensitive) or "0".."3"
func ParseAutonomyLevel(s string) (AutonomyLevel, error) {
	v := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "L")
	if len(v) != 1 || v[0] < '0' || v[0] > '3' {
		return 0, NewValidationError("level", fmt.Sprintf("unknown autonomy level %q", s))
	}
	return AutonomyLevel(v[0] - '0'), nil
}

// MarshalText encodes the level as "L<n>"
func (l AutonomyLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes "L<n>" or "<n>"
func (l *AutonomyLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseAutonomyLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// AutonomySource names which setting produced the effective level
type AutonomySource string

const (
	AutonomySourceOverride AutonomySource = "org_override"
	AutonomySourcePersonal AutonomySource = "personal"
	AutonomySourceOrg      AutonomySource = "org_default"
	AutonomySourceSystem   AutonomySource = "system_default"
)

// AutonomyConfig is the resolved per-user autonomy setting
type AutonomyConfig struct {
	UserID      string         `json:"user_id"`
	Level       AutonomyLevel  `json:"level"`
	Source      AutonomySource `json:"source"`
	OrgID       string         `json:"org_id,omitempty"`
	MaxAutonomy AutonomyLevel  `json:"max_autonomy"`
}

// UserAutonomy is a user's own autonomy preference
type UserAutonomy struct {
	UserID    string        `json:"user_id"`
	Level     AutonomyLevel `json:"level"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Organization carries the org-wide default and the hard ceiling
type Organization struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	DefaultLevel AutonomyLevel `json:"default_level"`
	MaxAutonomy  AutonomyLevel `json:"max_autonomy"`
	CreatedAt    time.Time     `json:"created_at"`
}

// OrgMembership links a user to an org with an optional admin override
type OrgMembership struct {
	OrgID         string         `json:"org_id"`
	UserID        string         `json:"user_id"`
	OverrideLevel *AutonomyLevel `json:"override_level,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
