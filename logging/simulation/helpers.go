// Package simulation defines the structured telemetry events emitted by the
// engine's optimistic-execution components (planet, galaxy, hybrid).
package simulation

import (
	"context"

	"aikasim/logging"
)

const (
	// EventRollback is emitted when a planet rolls back past a straggler message.
	EventRollback logging.EventType = "simulation.rollback"
	// EventAnnihilation is emitted when a positive/negative message pair cancels.
	EventAnnihilation logging.EventType = "simulation.annihilation"
	// EventCheckpoint describes a planet committing a checkpoint; only the
	// Checkpoint helper publishes it, and no engine component calls that helper.
	EventCheckpoint logging.EventType = "simulation.checkpoint"
	// EventGVTAdvance is emitted when the galaxy computes a new global virtual time.
	EventGVTAdvance logging.EventType = "simulation.gvt_advance"
	// EventGVTRefused is emitted when a candidate GVT would regress and is rejected.
	EventGVTRefused logging.EventType = "simulation.gvt_refused"
)

// RollbackPayload captures the extent of a rollback on a single planet.
type RollbackPayload struct {
	WorldID      uint64 `json:"worldId"`
	FromLVT      uint64 `json:"fromLvt"`
	ToLVT        uint64 `json:"toLvt"`
	StragglerTag string `json:"stragglerTag"`
}

// Rollback publishes a warning describing a planet's rollback extent.
func Rollback(ctx context.Context, pub logging.Publisher, tick uint64, payload RollbackPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRollback,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

// AnnihilationPayload describes a cancelled positive/negative message pair.
type AnnihilationPayload struct {
	WorldID uint64 `json:"worldId"`
	SendLVT uint64 `json:"sendLvt"`
}

// Annihilation publishes an info event when a message pair is annihilated.
func Annihilation(ctx context.Context, pub logging.Publisher, tick uint64, payload AnnihilationPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAnnihilation,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

// CheckpointPayload describes a committed journal checkpoint.
type CheckpointPayload struct {
	WorldID uint64 `json:"worldId"`
	LVT     uint64 `json:"lvt"`
}

// Checkpoint publishes a debug-severity event for a planet checkpoint.
func Checkpoint(ctx context.Context, pub logging.Publisher, tick uint64, payload CheckpointPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCheckpoint,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

// GVTAdvancePayload describes a successful GVT recalculation.
type GVTAdvancePayload struct {
	PreviousGVT uint64 `json:"previousGvt"`
	NewGVT      uint64 `json:"newGvt"`
}

// GVTAdvance publishes an info event when the galaxy advances GVT.
func GVTAdvance(ctx context.Context, pub logging.Publisher, tick uint64, payload GVTAdvancePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGVTAdvance,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

// GVTRefusedPayload describes a rejected GVT recalculation.
type GVTRefusedPayload struct {
	CurrentGVT uint64 `json:"currentGvt"`
	Candidate  uint64 `json:"candidate"`
}

// GVTRefused publishes a warning when a candidate GVT would regress time.
func GVTRefused(ctx context.Context, pub logging.Publisher, tick uint64, payload GVTRefusedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGVTRefused,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}
