package store

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

var (
	tradeHeader = []string{"trade_id", "order_id", "symbol", "sector", "action", "quantity", "price",
		"fees", "stop_loss", "realized_pnl", "status", "executed_at", "reason"}
	snapshotHeader = []string{"taken_at", "total_value", "cash", "positions_value", "unrealized_pnl",
		"realized_pnl", "daily_pnl", "total_pnl", "drawdown_pct", "open_positions"}
)

// WriteTradesCSV writes trades as CSV with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := cw.Write([]string{
			t.ID,
			t.OrderID,
			t.Symbol,
			t.Sector,
			string(t.Action),
			num(t.Quantity),
			num(t.Price),
			num(t.Fees),
			num(t.StopLoss),
			num(t.RealizedPnL),
			string(t.Status),
			t.ExecutedAt.Format(time.RFC3339),
			t.Reason,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSnapshotsCSV writes the equity curve as CSV with a header row.
func WriteSnapshotsCSV(w io.Writer, snaps []domain.PerformanceSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(snapshotHeader); err != nil {
		return err
	}
	for _, s := range snaps {
		err := cw.Write([]string{
			s.TakenAt.Format(time.RFC3339),
			num(s.TotalValue),
			num(s.Cash),
			num(s.PositionsValue),
			num(s.UnrealizedPnL),
			num(s.RealizedPnL),
			num(s.DailyPnL),
			num(s.TotalPnL),
			num(s.DrawdownPct),
			strconv.Itoa(s.OpenPositions),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func num(x float64) string {
	return strconv.FormatFloat(x, 'f', 4, 64)
}
