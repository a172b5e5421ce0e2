package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRisk is the dollar loss if the stop is hit.
func PlannedRisk(qty, entry, stop float64) float64 {
	return qty * abs(entry-stop)
}

// RR is reward over risk for a single target.
func RR(entry, stop, target float64) float64 {
	risk := abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return abs(target-entry) / risk
}

// RiskPct expresses a dollar risk as a percent of equity.
func RiskPct(risk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return risk / equity * 100
}

// SharesForRisk is the whole-share size whose stop-out loses at most
// riskPct of equity.
func SharesForRisk(equity, riskPct, entry, stop float64) float64 {
	perShare := abs(entry - stop)
	if perShare == 0 || equity <= 0 || riskPct <= 0 {
		return 0
	}
	return math.Floor(equity * riskPct / 100 / perShare)
}

// SharesForValue is the whole-share size worth at most value.
func SharesForValue(value, price float64) float64 {
	if price <= 0 || value <= 0 {
		return 0
	}
	return math.Floor(value / price)
}
