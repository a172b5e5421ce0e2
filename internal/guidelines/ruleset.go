// Package guidelines loads, validates and hot-reloads the versioned rule
// document that drives stock selection, entries, exits and risk limits.
package guidelines

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleSet is an immutable snapshot of the guidelines document. Values
// handed out by Store must not be modified.
type RuleSet struct {
	Version        string         `json:"version" yaml:"version"`
	StockSelection StockSelection `json:"stock_selection" yaml:"stock_selection"`
	EntrySignals   []EntrySignal  `json:"entry_signals" yaml:"entry_signals"`
	ExitRules      ExitRules      `json:"exit_rules" yaml:"exit_rules"`
	RiskLimits     RiskLimits     `json:"risk_limits" yaml:"risk_limits"`

	// Set by the store when the document is promoted.
	Source     string    `json:"-" yaml:"-"`
	Checksum   string    `json:"-" yaml:"-"`
	LoadedAt   time.Time `json:"-" yaml:"-"`
	Generation int64     `json:"-" yaml:"-"`
}

type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports min <= v <= max. A zero range accepts everything.
func (r Range) Contains(v float64) bool {
	if r.IsZero() {
		return true
	}
	return v >= r.Min && v <= r.Max
}

func (r Range) IsZero() bool { return r.Min == 0 && r.Max == 0 }

type StockSelection struct {
	Universe   []string       `json:"universe" yaml:"universe"`
	Liquidity  Liquidity      `json:"liquidity" yaml:"liquidity"`
	Volatility Range          `json:"volatility" yaml:"volatility"` // ATR as percent of price
	Price      Range          `json:"price" yaml:"price"`
	Technical  TechnicalSetup `json:"technical" yaml:"technical"`
}

type Liquidity struct {
	MinAvgVolume     float64 `json:"min_avg_volume" yaml:"min_avg_volume"`
	MinDollarVolume  float64 `json:"min_dollar_volume" yaml:"min_dollar_volume"`
	MaxSpreadPercent float64 `json:"max_spread_percent" yaml:"max_spread_percent"`
}

type TechnicalSetup struct {
	AboveSMA50         bool  `json:"above_sma50" yaml:"above_sma50"`
	AboveSMA200        bool  `json:"above_sma200" yaml:"above_sma200"`
	RSI                Range `json:"rsi" yaml:"rsi"`
	RequireMACDBullish bool  `json:"require_macd_bullish" yaml:"require_macd_bullish"`
}

// Entry signal types understood by the signal generator.
const (
	EntryBreakout = "breakout"
	EntryPullback = "pullback"
	EntryMomentum = "momentum"
)

type EntrySignal struct {
	Name             string  `json:"name" yaml:"name"`
	Type             string  `json:"type" yaml:"type"`
	VolumeMultiplier float64 `json:"volume_multiplier" yaml:"volume_multiplier"`
	MinRiskReward    float64 `json:"min_risk_reward" yaml:"min_risk_reward"`
	Disabled         bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type ExitRules struct {
	ProfitTargets    []TargetRung  `json:"profit_targets" yaml:"profit_targets"`
	StopLoss         StopLossRules `json:"stop_loss" yaml:"stop_loss"`
	TrailingStop     TrailingStop  `json:"trailing_stop" yaml:"trailing_stop"`
	TechnicalExitSMA int           `json:"technical_exit_sma,omitempty" yaml:"technical_exit_sma,omitempty"`
	MaxHoldingDays   int           `json:"max_holding_days" yaml:"max_holding_days"`
}

// TechnicalExitPeriods are the moving averages a technical exit can use.
var TechnicalExitPeriods = []int{20, 50, 200}

// SupportsTechnicalExit reports whether period is one of TechnicalExitPeriods.
func SupportsTechnicalExit(period int) bool {
	for _, p := range TechnicalExitPeriods {
		if p == period {
			return true
		}
	}
	return false
}

// TargetRung is one step of the profit-target ladder. Percent is used when
// no ATR is available.
type TargetRung struct {
	ATRMultiple float64 `json:"atr_multiple" yaml:"atr_multiple"`
	Percent     float64 `json:"percent" yaml:"percent"`
}

type StopLossRules struct {
	ATR     ATRStop     `json:"atr" yaml:"atr"`
	Percent PercentStop `json:"percent" yaml:"percent"`
}

type ATRStop struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

type PercentStop struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Value   float64 `json:"value" yaml:"value"`
}

type TrailingStop struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	ActivationPercent float64 `json:"activation_percent" yaml:"activation_percent"`
	TrailPercent      float64 `json:"trail_percent" yaml:"trail_percent"`
}

type RiskLimits struct {
	MaxDailyLossPercent      float64 `json:"max_daily_loss_percent" yaml:"max_daily_loss_percent"`
	MaxWeeklyLossPercent     float64 `json:"max_weekly_loss_percent" yaml:"max_weekly_loss_percent"`
	MaxDrawdownPercent       float64 `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
	MaxOpenPositions         int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxSectorExposurePercent float64 `json:"max_sector_exposure_percent" yaml:"max_sector_exposure_percent"`
	MaxPositionSizePercent   float64 `json:"max_position_size_percent" yaml:"max_position_size_percent"`
	RiskPerTradePercent      float64 `json:"risk_per_trade_percent" yaml:"risk_per_trade_percent"`
	MaxDailyRiskEvents       int     `json:"max_daily_risk_events,omitempty" yaml:"max_daily_risk_events,omitempty"`
}

// ActiveEntrySignals returns the entry definitions that are not disabled.
func (r *RuleSet) ActiveEntrySignals() []EntrySignal {
	out := make([]EntrySignal, 0, len(r.EntrySignals))
	for _, e := range r.EntrySignals {
		if !e.Disabled {
			out = append(out, e)
		}
	}
	return out
}

// Parse decodes a rule document. YAML is tried first with unknown keys
// rejected; JSON documents are valid YAML so they take the same path.
func Parse(data []byte) (*RuleSet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty rule document")
	}

	rs := &RuleSet{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty rule document")
		}
		jrs := &RuleSet{}
		if jerr := json.Unmarshal(data, jrs); jerr != nil {
			return nil, fmt.Errorf("parse rules (tried YAML and JSON): %w", err)
		}
		rs = jrs
	}

	sum := sha256.Sum256(data)
	rs.Checksum = hex.EncodeToString(sum[:])
	return rs, nil
}

// Marshal renders the rule set as YAML.
func (r *RuleSet) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}
