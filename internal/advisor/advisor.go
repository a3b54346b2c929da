// internal/advisor/advisor.go
package advisor

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

var (
	// ErrExhausted signals a billing or credit failure. The provider is
	// disabled for a cool-down window instead of being penalized gradually.
	ErrExhausted = errors.New("advisor credits exhausted")
	// ErrMalformed is returned when the advisor reply cannot be parsed.
	ErrMalformed = errors.New("malformed advisor response")
	// ErrUnavailable covers transport failures and 5xx replies.
	ErrUnavailable = errors.New("advisor unavailable")
)

// Kind selects the question asked of an advisor.
type Kind string

const (
	// KindEntry scores a new candidate token.
	KindEntry Kind = "entry"
	// KindPosition re-evaluates an open position.
	KindPosition Kind = "position"
	// KindRisk asks for a loss/rug probability estimate.
	KindRisk Kind = "risk"
)

// Request is the context handed to every advisor.
type Request struct {
	Kind         Kind
	Token        domain.TokenSnapshot
	Position     *domain.Position
	CurrentPrice float64
	Strategy     *domain.Strategy
}

// Opinion is one advisor's answer.
type Opinion struct {
	Action             domain.Action
	Confidence         float64 // 0..1
	Reasoning          string
	PotentialUpsidePct float64
	RiskLevel          string
	LossProbability    float64 // 0..100, risk requests only
}

// Advisor is the capability every AI provider implements.
type Advisor interface {
	Name() string
	Advise(ctx context.Context, req Request) (Opinion, error)
}

// Func adapts a function into an Advisor.
type Func struct {
	ID string
	Fn func(ctx context.Context, req Request) (Opinion, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Advise(ctx context.Context, req Request) (Opinion, error) {
	return f.Fn(ctx, req)
}
