// Package policy holds the pure autonomy and approval rules. Nothing in
// here performs I/O; the runtime and the autonomy service call into it.
package policy

import "github.com/garyjia/agent-runtime/internal/domain/entity"

// Gate is what the runtime does with a proposed action
type Gate string

const (
	// GateNone means the output proposes nothing side-effecting
	GateNone Gate = "none"
	// GateSuggest records the proposal as a suggestion and never acts on it
	GateSuggest Gate = "suggest"
	// GateQueue creates an approval item; the action runs only on approval
	GateQueue Gate = "queue"
	// GateExecute lets the strategy perform the action inline
	GateExecute Gate = "execute"
)

// AlwaysGated reports whether an action kind needs human approval at every level
func AlwaysGated(kind entity.ActionKind) bool {
	return kind == entity.ActionKindOutreach
}

// RequiresApproval is the approval boundary for side-effecting actions.
// Outreach is always gated; everything else is gated below L3.
func RequiresApproval(agentType entity.AgentType, kind entity.ActionKind, level entity.AutonomyLevel) bool {
	if AlwaysGated(kind) {
		return true
	}
	return level < entity.L3
}

// Clamp caps level at ceiling. The ceiling always wins.
func Clamp(level, ceiling entity.AutonomyLevel) entity.AutonomyLevel {
	if level > ceiling {
		return ceiling
	}
	if level < entity.L0 {
		return entity.L0
	}
	return level
}

// GateFor decides how a proposed action is handled. strategyRequested is the
// output's own requiresApproval flag and can only make gating stricter.
func GateFor(agentType entity.AgentType, kind entity.ActionKind, level entity.AutonomyLevel, strategyRequested bool) Gate {
	if kind == "" || kind == entity.ActionKindNone {
		return GateNone
	}
	if level <= entity.L0 && !AlwaysGated(kind) {
		return GateSuggest
	}
	if strategyRequested || RequiresApproval(agentType, kind, level) {
		return GateQueue
	}
	return GateExecute
}
