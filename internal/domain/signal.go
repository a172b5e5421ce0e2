// Package domain holds the value types shared by the decision pipeline:
// signals, orders, fills, positions and their exit criteria, and the
// portfolio record those mutate.
package domain

import (
	"errors"
	"fmt"
	"time"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Pass Action = "PASS"
)

// ParseAction normalizes free-form action text. Anything that is not a
// clear buy or sell (HOLD, WAIT, NO, empty) is a PASS.
func ParseAction(s string) Action {
	switch normalize(s) {
	case "BUY", "LONG", "ENTER":
		return Buy
	case "SELL", "EXIT", "CLOSE":
		return Sell
	default:
		return Pass
	}
}

// Signal is a proposed action that has not yet been risk checked or
// executed. It is consumed once per cycle and never persisted directly.
type Signal struct {
	Symbol     string
	Sector     string
	Action     Action
	Confidence float64 // [0,1]
	Quantity   float64 // recommended size in shares
	EntryPrice float64
	StopLoss   float64
	Targets    []float64
	Reasoning  string
	Source     string
	Indicators map[string]float64
	CreatedAt  time.Time
}

var ErrInvalidSignal = errors.New("invalid signal")

func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidSignal)
	}
	if s.Action != Buy && s.Action != Sell {
		return fmt.Errorf("%w: action %q is not tradable", ErrInvalidSignal, s.Action)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidSignal, s.Confidence)
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidSignal)
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidSignal)
	}
	if s.Action == Buy {
		for i := 1; i < len(s.Targets); i++ {
			if s.Targets[i] <= s.Targets[i-1] {
				return fmt.Errorf("%w: profit targets must be strictly increasing", ErrInvalidSignal)
			}
		}
	}
	return nil
}

// Value is the notional of the signal at its entry price.
func (s Signal) Value() float64 { return s.Quantity * s.EntryPrice }

func normalize(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			b = append(b, c-'a'+'A')
		case c >= 'A' && c <= 'Z':
			b = append(b, c)
		}
	}
	return string(b)
}
