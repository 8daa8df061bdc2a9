// Package cycle orchestrates the daily game cycle against the ledger.
//
// The orchestrator is invoked once per hour by an external scheduler and
// keeps no state between invocations: every run re-derives what to do from
// the current wall-clock time and the ledger's cycle record. The ledger is
// the only arbiter of whether an action already happened, so each handler
// checks the record before submitting anything.
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/impactworks/impactstrike/internal/game"
	"github.com/impactworks/impactstrike/internal/ledger"
	"github.com/impactworks/impactstrike/internal/platform/errors"
)

const (
	// DefaultPollInterval is the fulfillment poll spacing when unconfigured.
	DefaultPollInterval = 3 * time.Second
	// DefaultMaxWait bounds the fulfillment poll when unconfigured.
	DefaultMaxWait = 2 * time.Minute
)

// Status describes the outcome of one orchestrator invocation.
type Status string

const (
	// StatusNoAction means no ledger action is scheduled for the current hour.
	StatusNoAction Status = "no_action"
	// StatusSkipped means the ledger already reflects the scheduled action.
	StatusSkipped Status = "skipped"
	// StatusConfirmed means the action was submitted and confirmed.
	StatusConfirmed Status = "confirmed"
	// StatusPending means the strike request was confirmed but randomness
	// fulfillment had not been observed before the poll deadline. This is a
	// partial success, not a failure; a later invocation will observe it.
	StatusPending Status = "pending"
)

// Result describes what one invocation did.
type Result struct {
	Day    int64
	Phase  game.Phase
	Action ledger.Action // empty when no action was scheduled
	Status Status
	TxHash ledger.TxHandle
	// Winning is set when the day's winning coordinate was observed, either
	// freshly fulfilled or already present on the ledger.
	Winning *game.Coordinate
	Reason  string
}

// Config bounds the randomness-fulfillment poll after the strike request.
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// Orchestrator performs the ledger action scheduled for the current hour.
type Orchestrator struct {
	gateway ledger.Gateway
	cfg     Config
	clock   func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// New creates an orchestrator over a ledger gateway.
func New(gateway ledger.Gateway, cfg Config) (*Orchestrator, error) {
	if gateway == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	return &Orchestrator{
		gateway: gateway,
		cfg:     cfg.normalized(),
		clock:   time.Now,
		after:   time.After,
	}, nil
}

// Run resolves the current phase and day from the clock and performs the
// scheduled ledger action, if any. Hours with no scheduled action return a
// no-op result, not an error. Failures carry the originating phase.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	now := o.clock()
	phase := game.ResolvePhase(now)
	day := game.ResolveCycleDay(now)

	switch phase {
	case game.PhaseLocked:
		return o.lockTargeting(ctx, day)
	case game.PhaseStrike:
		return o.requestCoordinates(ctx, day)
	case game.PhaseOutcome:
		return o.resetCycle(ctx, day)
	default:
		return Result{
			Day:    day,
			Phase:  phase,
			Status: StatusNoAction,
			Reason: fmt.Sprintf("no action scheduled for hour %d", now.UTC().Hour()),
		}, nil
	}
}

// lockTargeting closes the targeting window. Re-entrant invocations are
// harmless: a ledger that already shows targeting locked is reported as a
// skip, never re-submitted.
func (o *Orchestrator) lockTargeting(ctx context.Context, day int64) (Result, error) {
	result := Result{Day: day, Phase: game.PhaseLocked, Action: ledger.ActionLockTargeting}

	record, err := o.gateway.ReadCycleRecord(ctx, day)
	if err != nil {
		return result, readFailed(game.PhaseLocked, err)
	}
	if record.Locked {
		result.Status = StatusSkipped
		result.Reason = "targeting already locked"
		return result, nil
	}

	handle, err := o.submitConfirmed(ctx, game.PhaseLocked, ledger.ActionLockTargeting)
	if err != nil {
		return result, err
	}
	result.Status = StatusConfirmed
	result.TxHash = handle
	return result, nil
}

// requestCoordinates kicks off the asynchronous randomness request and then
// polls the cycle record until the winning coordinate appears or the bounded
// wait elapses. A timeout is reported as pending, not as a failure: the write
// succeeded and fulfillment arrives out of band.
func (o *Orchestrator) requestCoordinates(ctx context.Context, day int64) (Result, error) {
	result := Result{Day: day, Phase: game.PhaseStrike, Action: ledger.ActionRequestCoordinates}

	record, err := o.gateway.ReadCycleRecord(ctx, day)
	if err != nil {
		return result, readFailed(game.PhaseStrike, err)
	}
	if record.CoordinatesSet {
		winning := record.Winning
		result.Status = StatusSkipped
		result.Winning = &winning
		result.Reason = "winning coordinates already set"
		return result, nil
	}

	handle, err := o.submitConfirmed(ctx, game.PhaseStrike, ledger.ActionRequestCoordinates)
	if err != nil {
		return result, err
	}
	result.TxHash = handle

	if winning, ok := o.pollForFulfillment(ctx, day); ok {
		result.Status = StatusConfirmed
		result.Winning = winning
		return result, nil
	}
	result.Status = StatusPending
	result.Reason = "randomness fulfillment pending"
	return result, nil
}

// resetCycle prepares the next day. The cycle record exposes no flag for a
// completed reset, so the submission is unconditional; the contract itself
// rejects redundant resets.
func (o *Orchestrator) resetCycle(ctx context.Context, day int64) (Result, error) {
	result := Result{Day: day, Phase: game.PhaseOutcome, Action: ledger.ActionResetCycle}

	handle, err := o.submitConfirmed(ctx, game.PhaseOutcome, ledger.ActionResetCycle)
	if err != nil {
		return result, err
	}
	result.Status = StatusConfirmed
	result.TxHash = handle
	return result, nil
}

// pollForFulfillment watches the cycle record for the winning coordinate at a
// fixed interval, for at most the configured wait. Transient read errors do
// not abort the poll; the next tick retries.
func (o *Orchestrator) pollForFulfillment(ctx context.Context, day int64) (*game.Coordinate, bool) {
	attempts := int(o.cfg.MaxWait / o.cfg.PollInterval)
	for i := 0; i <= attempts; i++ {
		record, err := o.gateway.ReadCycleRecord(ctx, day)
		if err == nil && record.CoordinatesSet {
			winning := record.Winning
			return &winning, true
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-o.after(o.cfg.PollInterval):
		}
	}
	return nil, false
}

// submitConfirmed submits one action and waits for its confirmation,
// attaching the originating phase to any failure.
func (o *Orchestrator) submitConfirmed(ctx context.Context, phase game.Phase, action ledger.Action) (ledger.TxHandle, error) {
	handle, err := o.gateway.Submit(ctx, action)
	if err != nil {
		return "", errors.WrapWithMetadata(errors.CodeLedgerSubmitFailed,
			fmt.Sprintf("submit %s", action), phaseMetadata(phase, action), err)
	}
	if err := o.gateway.AwaitConfirmation(ctx, handle); err != nil {
		return "", errors.WrapWithMetadata(errors.CodeLedgerConfirmFailed,
			fmt.Sprintf("confirm %s", action), phaseMetadata(phase, action), err)
	}
	return handle, nil
}

func readFailed(phase game.Phase, err error) error {
	return errors.WrapWithMetadata(errors.CodeLedgerReadFailed,
		"read cycle record", phaseMetadata(phase, ""), err)
}

func phaseMetadata(phase game.Phase, action ledger.Action) map[string]string {
	metadata := map[string]string{"phase": phase.String()}
	if action != "" {
		metadata["action"] = string(action)
	}
	return metadata
}
