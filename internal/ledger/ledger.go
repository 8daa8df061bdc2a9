// Package ledger defines the boundary to the on-chain game contract.
//
// The ledger is the sole durable owner of cycle state. Callers read the
// per-day cycle record to decide whether an action already happened; they
// never persist that knowledge themselves.
package ledger

import (
	"context"
	"math/big"

	"github.com/impactworks/impactstrike/internal/game"
)

// Action is one of the state-changing contract calls the daily cycle uses.
type Action string

const (
	ActionLockTargeting      Action = "lockTargeting"
	ActionRequestCoordinates Action = "requestWinningCoordinates"
	ActionResetCycle         Action = "resetDailyCycle"
)

// TxHandle identifies one submitted transaction.
type TxHandle string

// CycleRecord is the ledger's per-day cycle state, read-only to callers.
type CycleRecord struct {
	Locked         bool
	CoordinatesSet bool
	// Winning holds the day's winning coordinate; valid only once
	// CoordinatesSet is true.
	Winning          game.Coordinate
	ParticipantCount uint64
	TotalFees        *big.Int
}

// Gateway is the orchestrator's only view of the ledger.
type Gateway interface {
	// Submit sends one state-changing action. It may fail immediately on
	// configuration or connectivity errors.
	Submit(ctx context.Context, action Action) (TxHandle, error)
	// AwaitConfirmation blocks until the transaction is confirmed or the
	// context ends. A mined-but-reverted transaction is an error.
	AwaitConfirmation(ctx context.Context, handle TxHandle) error
	// ReadCycleRecord returns the current cycle record for a day.
	ReadCycleRecord(ctx context.Context, day int64) (CycleRecord, error)
}
