// internal/market/binance.go
package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
)

// SolUSD quotes SOL in USD from the Binance spot ticker. Quotes are
// reused for ttl.
type SolUSD struct {
	client *binance.Client
	symbol string
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	price   float64
	fetched time.Time
}

// NewSolUSD creates a ticker for symbol, e.g. SOLUSDT. Public endpoints need no keys.
func NewSolUSD(symbol string, ttl time.Duration, clk clock.Clock, logger *zap.Logger) *SolUSD {
	return &SolUSD{
		client: binance.NewClient("", ""),
		symbol: symbol,
		ttl:    ttl,
		clock:  clk,
		logger: logger.Named("binance"),
	}
}

// WithBaseURL points the client at another endpoint.
func (s *SolUSD) WithBaseURL(u string) *SolUSD {
	s.client.BaseURL = u
	return s
}

// Price returns the SOL/USD price. On a failed refresh the previous quote
// is returned when there is one.
func (s *SolUSD) Price(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.price > 0 && now.Sub(s.fetched) < s.ttl {
		return s.price, nil
	}

	prices, err := s.client.NewListPricesService().Symbol(s.symbol).Do(ctx)
	if err == nil && len(prices) == 0 {
		err = fmt.Errorf("no price for %s", s.symbol)
	}
	var p float64
	if err == nil {
		p, err = strconv.ParseFloat(prices[0].Price, 64)
	}
	if err != nil {
		if s.price > 0 {
			s.logger.Warn("Using stale SOL price", zap.Float64("price", s.price), zap.Error(err))
			return s.price, nil
		}
		return 0, fmt.Errorf("sol price: %w", err)
	}

	s.price, s.fetched = p, now
	return p, nil
}
