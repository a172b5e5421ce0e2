// Package risk decides whether a proposed trade may proceed and at what
// size. Rejections are ordinary results, never errors.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
)

type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Check names, in the order they run.
const (
	CheckPositionSize  = "Position Size"
	CheckDailyLoss     = "Daily Loss Limit"
	CheckDrawdown      = "Drawdown Limit"
	CheckSector        = "Sector Concentration"
	CheckRiskPerTrade  = "Risk Per Trade"
	CheckOpenPositions = "Max Open Positions"

	CheckEventLockout  = "Daily Risk Event Limit"
	CheckPreconditions = "Preconditions"
)

// Check is one entry of the audit trail.
type Check struct {
	Name    string  `json:"name"`
	Passed  bool    `json:"passed"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// Validation is the outcome of ValidateTrade. Checks holds every check
// that ran, passed or not.
type Validation struct {
	Symbol        string   `json:"symbol"`
	Action        string   `json:"action"`
	Approved      bool     `json:"approved"`
	RiskLevel     Level    `json:"risk_level"`
	RequestedSize float64  `json:"requested_size"`
	AdjustedSize  *float64 `json:"adjusted_size,omitempty"`
	Checks        []Check  `json:"checks"`
}

// Size is the size to trade: the adjusted size when one was set.
func (v Validation) Size() float64 {
	if v.AdjustedSize != nil {
		return *v.AdjustedSize
	}
	return v.RequestedSize
}

// Check returns the named check result.
func (v Validation) Check(name string) (Check, bool) {
	for _, c := range v.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Reasons joins the messages of the failed checks.
func (v Validation) Reasons() string {
	var out []string
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c.Name+": "+c.Message)
		}
	}
	return strings.Join(out, "; ")
}

// DefaultCashBuffer is the fraction of cash a buy may not spend.
const DefaultCashBuffer = 0.02

type Validator struct {
	events     *EventLog
	cashBuffer float64
	log        *logrus.Entry
	now        func() time.Time
}

type Option func(*Validator)

func WithEventLog(l *EventLog) Option {
	return func(v *Validator) {
		if l != nil {
			v.events = l
		}
	}
}

// WithCashBuffer sets the fraction of cash held back from buys.
func WithCashBuffer(f float64) Option {
	return func(v *Validator) {
		if f >= 0 && f < 1 {
			v.cashBuffer = f
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		events:     NewEventLog(0),
		cashBuffer: DefaultCashBuffer,
		log:        logging.Component(nil, "risk"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Events() *EventLog { return v.events }

// run carries the state threaded through the ordered checks.
type run struct {
	val      Validation
	size     float64
	decider  string
	rejected bool
}

func (r *run) pass(name string, value, limit float64, msg string) {
	r.val.Checks = append(r.val.Checks, Check{Name: name, Passed: true, Value: value, Limit: limit, Message: msg})
}

// alter records a failed check that changed the outcome at severity lvl.
func (r *run) alter(name string, value, limit float64, lvl Level, msg string) {
	r.val.Checks = append(r.val.Checks, Check{Name: name, Passed: false, Value: value, Limit: limit, Message: msg})
	if lvl >= r.val.RiskLevel {
		r.val.RiskLevel = lvl
		r.decider = name
	}
}

func (r *run) reject(name string, value, limit float64, lvl Level, msg string) {
	r.alter(name, value, limit, lvl, msg)
	r.rejected = true
}

func (r *run) resize(name string, value, limit, size float64, lvl Level, msg string) {
	if size <= 0 {
		r.reject(name, value, limit, High, msg+"; no size satisfies the limit")
		return
	}
	r.alter(name, value, limit, lvl, fmt.Sprintf("%s; resized %.0f -> %.0f", msg, r.size, size))
	r.size = size
}

// ValidateTrade runs the checks in order: position size, daily loss,
// drawdown, sector concentration, risk per trade, max open positions.
// Later checks see the size left by earlier ones. The first rejection
// ends the run.
func (v *Validator) ValidateTrade(sig domain.Signal, snap domain.PortfolioSnapshot, rules *guidelines.RuleSet) Validation {
	now := v.now()
	r := &run{
		val: Validation{
			Symbol:        sig.Symbol,
			Action:        string(sig.Action),
			RequestedSize: sig.Quantity,
			Checks:        []Check{},
		},
		size: sig.Quantity,
	}

	if rules == nil {
		r.reject(CheckPreconditions, 0, 0, Critical, "no rule set loaded")
		return v.finish(r, sig, now)
	}
	limits := rules.RiskLimits

	if limit := limits.MaxDailyRiskEvents; v.events.Locked(now, limit) {
		count := v.events.Count(now)
		r.reject(CheckEventLockout, float64(count), float64(limit), Critical,
			fmt.Sprintf("%d risk events today exceed %d; trading locked until tomorrow", count, limit))
		v.log.WithFields(logrus.Fields{"symbol": sig.Symbol, "events": count}).Warn("trade rejected by daily risk event lockout")
		return v.finish(r, sig, now)
	}

	if err := sig.Validate(); err != nil {
		r.reject(CheckPreconditions, 0, 0, High, err.Error())
		return v.finish(r, sig, now)
	}
	total := snap.Metrics.TotalValue
	if total <= 0 {
		r.reject(CheckPreconditions, total, 0, Critical, "portfolio has no value")
		return v.finish(r, sig, now)
	}

	if sig.Action == domain.Sell {
		v.sellChecks(r, sig, snap)
	} else {
		v.buyChecks(r, sig, snap, limits)
	}
	return v.finish(r, sig, now)
}

func (v *Validator) buyChecks(r *run, sig domain.Signal, snap domain.PortfolioSnapshot, limits guidelines.RiskLimits) {
	m := snap.Metrics
	total := m.TotalValue
	entry := sig.EntryPrice

	// 1. position size, including any shares already held
	held := 0.0
	if pos, ok := snap.Holding(sig.Symbol); ok {
		held = pos.Quantity
	}
	maxValue := limits.MaxPositionSizePercent / 100 * total
	heldValue := held * entry
	byPercent := SharesForValue(maxValue-heldValue, entry)
	byCash := SharesForValue(m.Cash*(1-v.cashBuffer), entry)
	allowed := math.Min(byPercent, byCash)
	pct := (heldValue + r.size*entry) / total * 100
	if r.size <= allowed {
		r.pass(CheckPositionSize, pct, limits.MaxPositionSizePercent, "within position and cash limits")
	} else {
		msg := fmt.Sprintf("position %.2f%% of portfolio exceeds %.2f%% or available cash", pct, limits.MaxPositionSizePercent)
		r.resize(CheckPositionSize, pct, limits.MaxPositionSizePercent, allowed, Medium, msg)
	}
	if r.rejected {
		return
	}

	// 2. daily loss, measured against the day's opening value
	lossPct := 0.0
	if dayOpen := total - m.DailyPnL; m.DailyPnL < 0 && dayOpen > 0 {
		lossPct = -m.DailyPnL / dayOpen * 100
	}
	if lossPct <= limits.MaxDailyLossPercent {
		r.pass(CheckDailyLoss, lossPct, limits.MaxDailyLossPercent, "daily loss within limit")
	} else {
		r.reject(CheckDailyLoss, lossPct, limits.MaxDailyLossPercent, Critical,
			fmt.Sprintf("daily loss %.2f%% exceeds %.2f%%", lossPct, limits.MaxDailyLossPercent))
		return
	}

	// 3. drawdown
	if m.DrawdownPct <= limits.MaxDrawdownPercent {
		r.pass(CheckDrawdown, m.DrawdownPct, limits.MaxDrawdownPercent, "drawdown within limit")
	} else {
		halved := math.Floor(r.size / 2)
		msg := fmt.Sprintf("drawdown %.2f%% exceeds %.2f%%, size halved", m.DrawdownPct, limits.MaxDrawdownPercent)
		if halved <= 0 {
			r.reject(CheckDrawdown, m.DrawdownPct, limits.MaxDrawdownPercent, High, msg+" to zero")
			return
		}
		r.resize(CheckDrawdown, m.DrawdownPct, limits.MaxDrawdownPercent, halved, Medium, msg)
	}

	// 4. sector concentration; the limit itself is already too much
	sector := sig.Sector
	if sector == "" {
		sector = "UNKNOWN"
	}
	exposure := m.SectorExposure[sector]
	if exposure < limits.MaxSectorExposurePercent {
		r.pass(CheckSector, exposure, limits.MaxSectorExposurePercent, sector+" exposure within limit")
	} else {
		r.reject(CheckSector, exposure, limits.MaxSectorExposurePercent, High,
			fmt.Sprintf("%s exposure %.2f%% at or above %.2f%%", sector, exposure, limits.MaxSectorExposurePercent))
		return
	}

	// 5. risk per trade
	perShare := entry - sig.StopLoss
	if sig.StopLoss <= 0 || perShare <= 0 {
		r.reject(CheckRiskPerTrade, 0, limits.RiskPerTradePercent, High,
			fmt.Sprintf("stop %.2f is not below entry %.2f", sig.StopLoss, entry))
		return
	}
	riskPct := RiskPct(PlannedRisk(r.size, entry, sig.StopLoss), total)
	if riskPct <= limits.RiskPerTradePercent {
		r.pass(CheckRiskPerTrade, riskPct, limits.RiskPerTradePercent, "risk per trade within limit")
	} else {
		maxSize := SharesForRisk(total, limits.RiskPerTradePercent, entry, sig.StopLoss)
		r.resize(CheckRiskPerTrade, riskPct, limits.RiskPerTradePercent, maxSize, Medium,
			fmt.Sprintf("risk %.2f%% exceeds %.2f%%", riskPct, limits.RiskPerTradePercent))
		if r.rejected {
			return
		}
	}

	// 6. max open positions; adding to a holding opens nothing
	open := float64(m.OpenPositions)
	switch {
	case held > 0:
		r.pass(CheckOpenPositions, open, float64(limits.MaxOpenPositions), "adds to an existing position")
	case m.OpenPositions < limits.MaxOpenPositions:
		r.pass(CheckOpenPositions, open, float64(limits.MaxOpenPositions), "open positions within limit")
	default:
		r.reject(CheckOpenPositions, open, float64(limits.MaxOpenPositions), High,
			fmt.Sprintf("%d open positions at limit %d", m.OpenPositions, limits.MaxOpenPositions))
	}
}

// sellChecks only ever shrinks a sell to the held quantity. Selling
// reduces exposure, so the loss, drawdown, sector and risk limits do not
// apply and the open-position count is bypassed.
func (v *Validator) sellChecks(r *run, sig domain.Signal, snap domain.PortfolioSnapshot) {
	pos, ok := snap.Holding(sig.Symbol)
	if !ok {
		r.reject(CheckPositionSize, 0, 0, High, "no open position to sell")
		return
	}
	if r.size <= pos.Quantity {
		r.pass(CheckPositionSize, r.size, pos.Quantity, "within held quantity")
	} else {
		r.resize(CheckPositionSize, r.size, pos.Quantity, pos.Quantity, Medium, "sell exceeds held quantity")
	}

	const exempt = "exempt: reduces exposure"
	m := snap.Metrics
	r.pass(CheckDailyLoss, -m.DailyPnL, 0, exempt)
	r.pass(CheckDrawdown, m.DrawdownPct, 0, exempt)
	r.pass(CheckSector, m.SectorExposure[pos.Sector], 0, exempt)
	r.pass(CheckRiskPerTrade, 0, 0, exempt)
	r.pass(CheckOpenPositions, float64(m.OpenPositions), 0, "bypassed for SELL")
}

func (v *Validator) finish(r *run, sig domain.Signal, now time.Time) Validation {
	r.val.Approved = !r.rejected
	if r.val.Approved && r.size != sig.Quantity {
		size := r.size
		r.val.AdjustedSize = &size
	}
	if r.val.RiskLevel == Low && !r.val.Approved {
		r.val.RiskLevel = High
	}

	if !r.val.Approved || r.val.AdjustedSize != nil {
		action := "RESIZED"
		if !r.val.Approved {
			action = "REJECTED"
		}
		count := v.events.Record(RiskEvent{
			Time:     now,
			Type:     eventType(r.decider),
			Severity: r.val.RiskLevel,
			Symbol:   sig.Symbol,
			Action:   action,
			Message:  r.val.Reasons(),
		})
		v.log.WithFields(logrus.Fields{
			"symbol":       sig.Symbol,
			"side":         sig.Action,
			"result":       action,
			"risk_level":   r.val.RiskLevel,
			"size":         r.val.Size(),
			"events_today": count,
		}).Info(r.val.Reasons())
	}
	return r.val
}

// eventType turns a check name into an event tag, e.g. "DAILY_LOSS_LIMIT".
func eventType(check string) string {
	if check == "" {
		return "UNSPECIFIED"
	}
	return strings.ToUpper(strings.ReplaceAll(check, " ", "_"))
}
