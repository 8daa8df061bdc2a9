package game

import "errors"

// CoordinateMax is the inclusive upper bound of every coordinate axis.
const CoordinateMax = 10

// BatterySize is the number of consecutive join positions sharing one battery.
const BatterySize = 10

// ErrNegativeJoinIndex indicates a battery assignment was requested for a
// join position that cannot exist.
var ErrNegativeJoinIndex = errors.New("join index must be non-negative")

// Coordinate is a 3D integer target on the game grid.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Valid reports whether every axis lies in the closed range [0, CoordinateMax].
func (c Coordinate) Valid() bool {
	return c.X >= 0 && c.X <= CoordinateMax &&
		c.Y >= 0 && c.Y <= CoordinateMax &&
		c.Z >= 0 && c.Z <= CoordinateMax
}

// CountMatches returns the number of axes on which a and b agree, in 0..3.
// It is symmetric: CountMatches(a, b) == CountMatches(b, a).
func CountMatches(a, b Coordinate) int {
	matches := 0
	if a.X == b.X {
		matches++
	}
	if a.Y == b.Y {
		matches++
	}
	if a.Z == b.Z {
		matches++
	}
	return matches
}

// AssignBattery returns the display battery group for a player's ordinal join
// position. Groups are first-come first-served: positions 0-9 share battery 0,
// 10-19 share battery 1, and so on.
func AssignBattery(joinIndex int) (int, error) {
	if joinIndex < 0 {
		return 0, ErrNegativeJoinIndex
	}
	return joinIndex / BatterySize, nil
}
