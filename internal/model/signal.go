package model

// Direction is the closed set of signal variants a strategy may emit.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionClose Direction = "close"
)

// Signal is an immutable instruction from a strategy to the executor.
//
// SizePercent, StopLoss and TakeProfit are only meaningful for
// DirectionLong/DirectionShort; PositionID is only meaningful for
// DirectionClose (empty means "close the first open position").
type Signal struct {
	Direction   Direction
	SizePercent float64
	StopLoss    float64
	TakeProfit  float64
	PositionID  string
}

// NewOpenLong builds a long-entry signal.
func NewOpenLong(sizePercent, stopLoss, takeProfit float64) Signal {
	return Signal{
		Direction:   DirectionLong,
		SizePercent: sizePercent,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
	}
}

// NewOpenShort builds a short-entry signal.
func NewOpenShort(sizePercent, stopLoss, takeProfit float64) Signal {
	return Signal{
		Direction:   DirectionShort,
		SizePercent: sizePercent,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
	}
}

// NewClose builds a close signal. An empty positionID closes the first open
// position the engine finds.
func NewClose(positionID string) Signal {
	return Signal{Direction: DirectionClose, PositionID: positionID}
}
