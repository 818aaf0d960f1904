package opportunity

import (
	"github.com/irfndi/arb-edge/internal/apperror"
)

// Defaults applied when a user has no trading settings of their own.
const (
	defaultTradeSizeUSDT     = 100.0
	defaultStopLossPercent   = 1.0
	defaultTakeProfitPercent = 2.0

	// Floors preventing degenerate zero-width targets.
	minStopLossPercent   = 0.1
	minTakeProfitPercent = 0.2
)

// TradingSettings carries a user's personal risk parameters.
type TradingSettings struct {
	StopLossPercent   float64
	TakeProfitPercent float64
	MaxPositionSize   float64
}

// TradeTargets are the calculated stop-loss/take-profit prices and the
// projected profit if the take-profit fills.
type TradeTargets struct {
	CurrentPrice       float64 `json:"current_price"`
	StopLossPrice      float64 `json:"stop_loss_price"`
	TakeProfitPrice    float64 `json:"take_profit_price"`
	ProjectedPLPercent float64 `json:"projected_pl_percent"`
	ProjectedPLUSD     float64 `json:"projected_pl_usd"`
}

// CalculateTradeTargets derives SL/TP prices and projected P/L for an
// opportunity at the given price. tradeSizeUSDT of zero falls back to the
// default position size; settings may be nil.
func CalculateTradeTargets(currentPrice, tradeSizeUSDT float64, settings *TradingSettings) (TradeTargets, error) {
	if currentPrice <= 0 {
		return TradeTargets{}, apperror.Validation("current price must be positive for trade-target calculation")
	}

	slPct := defaultStopLossPercent
	tpPct := defaultTakeProfitPercent
	size := tradeSizeUSDT

	if settings != nil {
		slPct = max(settings.StopLossPercent, minStopLossPercent)
		tpPct = max(settings.TakeProfitPercent, minTakeProfitPercent)
		if size <= 0 {
			size = defaultTradeSizeUSDT
			if settings.MaxPositionSize > 0 {
				size = min(size, settings.MaxPositionSize)
			}
		}
	} else if size <= 0 {
		size = defaultTradeSizeUSDT
	}

	slDec := slPct / 100.0
	tpDec := tpPct / 100.0

	return TradeTargets{
		CurrentPrice:       currentPrice,
		StopLossPrice:      currentPrice * (1.0 - slDec),
		TakeProfitPrice:    currentPrice * (1.0 + tpDec),
		ProjectedPLPercent: tpPct,
		ProjectedPLUSD:     size * tpDec,
	}, nil
}
