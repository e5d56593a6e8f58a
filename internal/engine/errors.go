package engine

import "errors"

// Typed error kinds the core distinguishes (§7). Each is a sentinel
// wrapped with fmt.Errorf("...: %w", ErrX) at the call site so callers
// can errors.Is against it while the message stays specific.
var (
	ErrConfig                = errors.New("config error")
	ErrSync                  = errors.New("holding sync error")
	ErrPriceUnavailable      = errors.New("price unavailable")
	ErrStrategyExpression    = errors.New("strategy expression error")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrTradeExecution        = errors.New("trade execution error")
	ErrSaturatedBondingCurve = errors.New("saturated bonding curve")
	ErrDenylistedCreator     = errors.New("denylisted creator")
	ErrBacktestSourceMissing = errors.New("backtest source missing")
)
