package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

// criterionRow is the flat storage form of an ExitCriterion.
type criterionRow struct {
	ID        string
	Kind      string
	Method    string
	Value     float64
	Level     int
	Deadline  sql.NullTime
	Indicator string
	Active    bool
	CreatedAt time.Time
}

func encodeCriterion(c domain.ExitCriterion) criterionRow {
	row := criterionRow{ID: c.ID, Kind: string(c.Kind()), Active: c.Active, CreatedAt: c.CreatedAt.UTC()}
	switch r := c.Rule.(type) {
	case domain.StopLoss:
		row.Value = r.Price
		row.Method = string(r.Method)
	case domain.ProfitTarget:
		row.Value = r.Price
		row.Level = r.Level
	case domain.TimeBased:
		row.Deadline = sql.NullTime{Time: r.Deadline.UTC(), Valid: true}
	case domain.Technical:
		row.Indicator = r.Indicator
	default:
		panic(fmt.Sprintf("store: unknown criterion %T", c.Rule))
	}
	return row
}

func decodeCriterion(row criterionRow) (domain.ExitCriterion, error) {
	c := domain.ExitCriterion{ID: row.ID, Active: row.Active, CreatedAt: row.CreatedAt}
	switch domain.CriterionKind(row.Kind) {
	case domain.StopLossKind:
		c.Rule = domain.StopLoss{Price: row.Value, Method: domain.StopMethod(row.Method)}
	case domain.ProfitTargetKind:
		c.Rule = domain.ProfitTarget{Price: row.Value, Level: row.Level}
	case domain.TimeBasedKind:
		if !row.Deadline.Valid {
			return c, fmt.Errorf("criterion %s: time-based without deadline", row.ID)
		}
		c.Rule = domain.TimeBased{Deadline: row.Deadline.Time}
	case domain.TechnicalKind:
		c.Rule = domain.Technical{Indicator: row.Indicator}
	default:
		return c, fmt.Errorf("criterion %s: unknown kind %q", row.ID, row.Kind)
	}
	return c, nil
}
