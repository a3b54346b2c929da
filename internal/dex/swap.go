// internal/dex/swap.go
package dex

import (
	"context"
	"errors"
)

// SOLMint is the wrapped SOL mint used as the quote currency.
const SOLMint = "So11111111111111111111111111111111111111112"

// SOLDecimals is the number of decimals of native SOL.
const SOLDecimals = 9

var (
	// ErrNoRoute means no liquidity path exists for the pair.
	ErrNoRoute = errors.New("no swap route")
	// ErrZeroOutput means the route would return nothing.
	ErrZeroOutput = errors.New("swap output is zero")
	// ErrRejected means the transaction was built but not accepted on chain.
	ErrRejected = errors.New("swap rejected")
)

// Direction of a swap relative to SOL.
type Direction string

const (
	Buy  Direction = "buy"  // SOL -> token
	Sell Direction = "sell" // token -> SOL
)

// SwapRequest is a single swap. Amount is in UI units of the input asset:
// SOL for buys, tokens for sells.
type SwapRequest struct {
	Wallet      string
	Direction   Direction
	Token       string
	Amount      float64
	SlippageBps int
}

// SwapResult reports an executed swap. AmountOut is in UI units of the output asset.
type SwapResult struct {
	Success   bool
	Signature string
	AmountOut float64
	Route     string
}

// Executor executes swaps.
type Executor interface {
	Name() string
	Swap(ctx context.Context, req SwapRequest) (SwapResult, error)
}

// Unsellable reports whether err means the token cannot be sold at all,
// as opposed to a transient execution failure.
func Unsellable(err error) bool {
	return errors.Is(err, ErrNoRoute) || errors.Is(err, ErrZeroOutput)
}

// mints returns input and output mints for a request.
func (r SwapRequest) mints() (in, out string) {
	if r.Direction == Buy {
		return SOLMint, r.Token
	}
	return r.Token, SOLMint
}
