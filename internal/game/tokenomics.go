package game

import (
	"errors"
	"math/big"
)

// Token constants for the IMPACT entry token.
const (
	// TotalSupply is the fixed token supply, in whole tokens.
	TotalSupply = 1_000_000_000
	// EntryFee is the per-player daily entry fee, in whole tokens.
	EntryFee = 1_000
	// TokenDecimals is the token's base-unit precision.
	TokenDecimals = 18
)

// devRakeBasisPoints is the fixed developer rake: 8% of collected fees.
const devRakeBasisPoints = 800

const basisPointDenominator = 10_000

// ErrNilFees indicates a fee split was requested without a fee total.
var ErrNilFees = errors.New("total fees are required")

// ErrNegativeFees indicates a fee split was requested for a negative total.
var ErrNegativeFees = errors.New("total fees must be non-negative")

// BurnRate returns the percentage of collected fees destroyed for a given
// participant count. The rate is a step function that decreases as
// participation grows; it is total over all non-negative counts.
func BurnRate(participantCount int) float64 {
	switch {
	case participantCount < 1_000:
		return 5
	case participantCount < 5_000:
		return 3
	case participantCount < 20_000:
		return 1.5
	default:
		return 0.5
	}
}

// burnBasisPoints mirrors BurnRate in integer basis points so fee splits can
// be computed exactly on token base units.
func burnBasisPoints(participantCount int) int64 {
	switch {
	case participantCount < 1_000:
		return 500
	case participantCount < 5_000:
		return 300
	case participantCount < 20_000:
		return 150
	default:
		return 50
	}
}

// FeeSplit describes how one day's collected entry fees are divided.
type FeeSplit struct {
	Jackpot *big.Int
	DevRake *big.Int
	Burn    *big.Int
}

// ComputeFeeSplit divides totalFees (token base units) into jackpot, dev rake,
// and burn shares. The dev rake is fixed at 8%; the burn share follows
// BurnRate for the participant count; the jackpot takes the remainder, so the
// three shares always sum exactly to totalFees. Division residue accrues to
// the jackpot.
func ComputeFeeSplit(totalFees *big.Int, participantCount int) (FeeSplit, error) {
	if totalFees == nil {
		return FeeSplit{}, ErrNilFees
	}
	if totalFees.Sign() < 0 {
		return FeeSplit{}, ErrNegativeFees
	}

	denominator := big.NewInt(basisPointDenominator)

	devRake := new(big.Int).Mul(totalFees, big.NewInt(devRakeBasisPoints))
	devRake.Quo(devRake, denominator)

	burn := new(big.Int).Mul(totalFees, big.NewInt(burnBasisPoints(participantCount)))
	burn.Quo(burn, denominator)

	jackpot := new(big.Int).Sub(totalFees, devRake)
	jackpot.Sub(jackpot, burn)

	return FeeSplit{
		Jackpot: jackpot,
		DevRake: devRake,
		Burn:    burn,
	}, nil
}
