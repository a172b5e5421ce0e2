package domain

import (
	"fmt"
	"time"
)

type CriterionKind string

const (
	StopLossKind     CriterionKind = "STOP_LOSS"
	ProfitTargetKind CriterionKind = "PROFIT_TARGET"
	TimeBasedKind    CriterionKind = "TIME_BASED"
	TechnicalKind    CriterionKind = "TECHNICAL"
)

// Lower value wins when several criteria trigger in the same pass.
// Stop-loss always takes precedence.
const (
	StopLossPriority     = 1
	ProfitTargetPriority = 2
	TimeBasedPriority    = 3
	TechnicalPriority    = 4
)

// Criterion is the closed set of exit rules. The unexported marker keeps
// implementations inside this package, so every type switch over a
// Criterion has a fixed set of cases to cover.
type Criterion interface {
	Kind() CriterionKind
	isCriterion()
}

type StopMethod string

const (
	StopATR      StopMethod = "atr"
	StopPercent  StopMethod = "percent"
	StopTrailing StopMethod = "trailing"
	StopSignal   StopMethod = "signal"
)

// StopLoss triggers when price <= Price.
type StopLoss struct {
	Price  float64
	Method StopMethod
}

// ProfitTarget triggers when price >= Price. Level is the 1-based rung of
// the target ladder.
type ProfitTarget struct {
	Price float64
	Level int
}

// TimeBased triggers when now >= Deadline.
type TimeBased struct {
	Deadline time.Time
}

// Technical triggers when price closes below the current value of the
// named indicator (e.g. "sma50").
type Technical struct {
	Indicator string
}

func (StopLoss) Kind() CriterionKind     { return StopLossKind }
func (ProfitTarget) Kind() CriterionKind { return ProfitTargetKind }
func (TimeBased) Kind() CriterionKind    { return TimeBasedKind }
func (Technical) Kind() CriterionKind    { return TechnicalKind }

func (StopLoss) isCriterion()     {}
func (ProfitTarget) isCriterion() {}
func (TimeBased) isCriterion()    {}
func (Technical) isCriterion()    {}

// ExitCriterion is a stored threshold attached to a position.
type ExitCriterion struct {
	ID        string
	Rule      Criterion
	Active    bool
	CreatedAt time.Time
}

func (c ExitCriterion) Kind() CriterionKind { return c.Rule.Kind() }

func (c ExitCriterion) Priority() int { return Priority(c.Rule) }

// Priority returns the precedence of a criterion; lower wins.
func Priority(r Criterion) int {
	switch r.(type) {
	case StopLoss:
		return StopLossPriority
	case ProfitTarget:
		return ProfitTargetPriority
	case TimeBased:
		return TimeBasedPriority
	case Technical:
		return TechnicalPriority
	default:
		panic(fmt.Sprintf("domain: unknown criterion %T", r))
	}
}

// TriggerValue is the numeric threshold of a criterion. Time-based
// criteria report the deadline as unix seconds; technical criteria have no
// stored level.
func TriggerValue(r Criterion) float64 {
	switch r := r.(type) {
	case StopLoss:
		return r.Price
	case ProfitTarget:
		return r.Price
	case TimeBased:
		return float64(r.Deadline.Unix())
	case Technical:
		return 0
	default:
		panic(fmt.Sprintf("domain: unknown criterion %T", r))
	}
}

func (c ExitCriterion) String() string {
	switch r := c.Rule.(type) {
	case StopLoss:
		return fmt.Sprintf("%s(%s) @ %.2f", r.Kind(), r.Method, r.Price)
	case ProfitTarget:
		return fmt.Sprintf("%s#%d @ %.2f", r.Kind(), r.Level, r.Price)
	case TimeBased:
		return fmt.Sprintf("%s @ %s", r.Kind(), r.Deadline.Format(time.RFC3339))
	case Technical:
		return fmt.Sprintf("%s below %s", r.Kind(), r.Indicator)
	default:
		panic(fmt.Sprintf("domain: unknown criterion %T", c.Rule))
	}
}
