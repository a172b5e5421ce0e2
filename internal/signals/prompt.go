package signals

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/market"
)

func buyPrompt(s market.Snapshot, a Assessment) string {
	t := s.Technicals
	return fmt.Sprintf(`Evaluate a swing-trade ENTRY for %s.

Price: %.2f (bid %.2f / ask %.2f), volume %.0f vs avg %.0f
RSI: %.1f
MACD: %.3f (signal %.3f, histogram %.3f)
SMA20/50/200: %.2f / %.2f / %.2f
ATR: %.2f (%.2f%% of price)
Setup: %s
Planned stop: %.2f, targets: %s

Answer BUY if the setup is worth entering, otherwise PASS.
Reply in JSON only: {"action":"BUY|PASS","confidence":0.0-1.0,"reasoning":"..."}`,
		s.Symbol,
		s.Price(), s.Quote.Bid, s.Quote.Ask, s.Quote.Volume, avgVolume(s),
		t.RSI,
		t.MACD, t.MACDSignal, t.MACDHist,
		t.SMA20, t.SMA50, t.SMA200,
		t.ATR, s.ATRPercent(),
		a.Setup,
		a.Stop, formatLevels(a.Targets))
}

func sellPrompt(pos domain.Position, s market.Snapshot, reasons []string) string {
	t := s.Technicals
	price := s.Price()
	pnlPct := 0.0
	if pos.AvgEntryPrice > 0 {
		pnlPct = (price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	}
	return fmt.Sprintf(`Review an open swing position in %s.

Held: %.0f shares at %.2f, now %.2f (%+.2f%%)
RSI: %.1f
MACD: %.3f (signal %.3f)
SMA50: %.2f
Warning signs: %s

Answer SELL to close the whole position, otherwise PASS.
Reply in JSON only: {"action":"SELL|PASS","confidence":0.0-1.0,"reasoning":"..."}`,
		pos.Symbol,
		pos.Quantity, pos.AvgEntryPrice, price, pnlPct,
		t.RSI,
		t.MACD, t.MACDSignal,
		t.SMA50,
		strings.Join(reasons, ", "))
}

func formatLevels(v []float64) string {
	parts := make([]string, len(v))
	for i, p := range v {
		parts[i] = fmt.Sprintf("%.2f", p)
	}
	return strings.Join(parts, ", ")
}
