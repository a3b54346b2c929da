// internal/market/dexscreener.go
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

const (
	solanaChain = "solana"
	wsolMint    = "So11111111111111111111111111111111111111112"
	// maxBatch is the DexScreener cap on addresses per tokens call.
	maxBatch = 30
)

// ErrNoPairs means the token has no tradable SOL pair.
var ErrNoPairs = errors.New("no SOL trading pairs")

// DexScreenerResponse представляет основную структуру ответа
type DexScreenerResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []PairInfo `json:"pairs"`
}

// PairInfo содержит информацию о паре
type PairInfo struct {
	ChainId       string             `json:"chainId"`
	DexId         string             `json:"dexId"`
	PairAddress   string             `json:"pairAddress"`
	BaseToken     TokenInfo          `json:"baseToken"`
	QuoteToken    TokenInfo          `json:"quoteToken"`
	PriceNative   string             `json:"priceNative"`
	PriceUsd      string             `json:"priceUsd"`
	Txns          map[string]TxCount `json:"txns"`
	Volume        map[string]float64 `json:"volume"`
	PriceChange   map[string]float64 `json:"priceChange"`
	Liquidity     LiquidityInfo      `json:"liquidity"`
	PairCreatedAt int64              `json:"pairCreatedAt"`
}

// TokenInfo содержит информацию о токене
type TokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

// TxCount is the buy and sell count for one window.
type TxCount struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// LiquidityInfo содержит информацию о ликвидности
type LiquidityInfo struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Config configures the DexScreener client.
type Config struct {
	BaseURL       string
	RatePerMinute int
	Timeout       time.Duration
	Retries       int
	Concurrency   int
	BatchSize     int // addresses per tokens call, at most 30
}

// DexScreener is the market data provider backed by the DexScreener API.
type DexScreener struct {
	cfg     Config
	client  *http.Client
	limiter ratelimit.Limiter
	clock   clock.Clock
	logger  *zap.Logger

	mu        sync.RWMutex
	lastPrice map[string]float64
}

// NewDexScreener создает новый экземпляр клиента
func NewDexScreener(cfg Config, clk clock.Clock, logger *zap.Logger) *DexScreener {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatch {
		cfg.BatchSize = maxBatch
	}
	return &DexScreener{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   ratelimit.New(cfg.RatePerMinute, ratelimit.Per(time.Minute)),
		clock:     clk,
		logger:    logger.Named("dexscreener"),
		lastPrice: make(map[string]float64),
	}
}

// Discover searches for candidate tokens and applies the liquidity and
// volume floors of filter. Results are ordered by 24h volume.
func (d *DexScreener) Discover(ctx context.Context, filter domain.DiscoveryFilter) ([]domain.TokenSnapshot, error) {
	u := fmt.Sprintf("%s/search?q=%s", strings.TrimRight(d.cfg.BaseURL, "/"), url.QueryEscape(filter.Query))
	resp, err := d.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", filter.Query, err)
	}

	now := d.clock.Now()
	best := bestPairs(resp.Pairs)
	out := make([]domain.TokenSnapshot, 0, len(best))
	for _, pair := range best {
		snap := toSnapshot(pair, now)
		if snap.LiquidityUSD < filter.MinLiquidityUSD || snap.Volume24h < filter.MinVolumeUSD {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume24h > out[j].Volume24h })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	d.remember(out)
	d.logger.Debug("Discovery finished",
		zap.String("query", filter.Query),
		zap.Int("pairs", len(resp.Pairs)),
		zap.Int("candidates", len(out)))
	return out, nil
}

// Snapshots fetches current snapshots for tokens in batches of 30.
// Tokens without a SOL pair are absent from the result.
func (d *DexScreener) Snapshots(ctx context.Context, tokens []string) (map[string]domain.TokenSnapshot, error) {
	tokens = dedupe(tokens)
	out := make(map[string]domain.TokenSnapshot, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for start := 0; start < len(tokens); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(tokens))
		chunk := tokens[start:end]
		g.Go(func() error {
			u := fmt.Sprintf("%s/tokens/%s", strings.TrimRight(d.cfg.BaseURL, "/"), strings.Join(chunk, ","))
			resp, err := d.doRequest(gctx, u)
			if err != nil {
				return err
			}
			now := d.clock.Now()
			mu.Lock()
			defer mu.Unlock()
			for addr, pair := range bestPairs(resp.Pairs) {
				out[addr] = toSnapshot(pair, now)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch snapshots: %w", err)
	}

	snaps := make([]domain.TokenSnapshot, 0, len(out))
	for _, s := range out {
		snaps = append(snaps, s)
	}
	d.remember(snaps)
	return out, nil
}

// BatchPriceOf returns SOL prices for tokens with one request per 30 tokens.
func (d *DexScreener) BatchPriceOf(ctx context.Context, tokens []string) (map[string]float64, error) {
	snaps, err := d.Snapshots(ctx, tokens)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(snaps))
	for addr, s := range snaps {
		if s.PriceNative > 0 {
			prices[addr] = s.PriceNative
		}
	}
	return prices, nil
}

// PriceOf returns the SOL price of one token.
func (d *DexScreener) PriceOf(ctx context.Context, token string) (float64, error) {
	prices, err := d.BatchPriceOf(ctx, []string{token})
	if err != nil {
		return 0, err
	}
	p, ok := prices[token]
	if !ok {
		return 0, fmt.Errorf("%s: %w", token, ErrNoPairs)
	}
	return p, nil
}

// PriceInSOL is PriceOf; it lets the paper executor fill against live prices.
func (d *DexScreener) PriceInSOL(ctx context.Context, token string) (float64, error) {
	return d.PriceOf(ctx, token)
}

// LastPrice returns the most recent price seen for token.
func (d *DexScreener) LastPrice(token string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.lastPrice[token]
	return p, ok
}

func (d *DexScreener) remember(snaps []domain.TokenSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range snaps {
		if s.PriceNative > 0 {
			d.lastPrice[s.Address] = s.PriceNative
		}
	}
}

// doRequest выполняет HTTP запрос с учетом rate limit и повторов
func (d *DexScreener) doRequest(ctx context.Context, u string) (*DexScreenerResponse, error) {
	operation := func() (*DexScreenerResponse, error) {
		d.limiter.Take()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
		}

		var out DexScreenerResponse
		if err := sonic.Unmarshal(body, &out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return &out, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(d.cfg.Retries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Debug("Retrying market request", zap.Error(err), zap.Duration("in", next))
		}))
}

// bestPairs keeps, per base token, the Solana SOL-quoted pair with the most liquidity.
func bestPairs(pairs []PairInfo) map[string]PairInfo {
	best := make(map[string]PairInfo)
	for _, p := range pairs {
		if p.ChainId != solanaChain || p.QuoteToken.Address != wsolMint {
			continue
		}
		if cur, ok := best[p.BaseToken.Address]; !ok || p.Liquidity.USD > cur.Liquidity.USD {
			best[p.BaseToken.Address] = p
		}
	}
	return best
}

func toSnapshot(p PairInfo, now time.Time) domain.TokenSnapshot {
	s := domain.TokenSnapshot{
		Address:      p.BaseToken.Address,
		Symbol:       p.BaseToken.Symbol,
		Name:         p.BaseToken.Name,
		PairAddress:  p.PairAddress,
		DexID:        p.DexId,
		PriceUSD:     parseFloat(p.PriceUsd),
		PriceNative:  parseFloat(p.PriceNative),
		Change5m:     p.PriceChange["m5"],
		Change1h:     p.PriceChange["h1"],
		Change24h:    p.PriceChange["h24"],
		Volume1h:     p.Volume["h1"],
		Volume24h:    p.Volume["h24"],
		LiquidityUSD: p.Liquidity.USD,
		Buys1h:       p.Txns["h1"].Buys,
		Sells1h:      p.Txns["h1"].Sells,
		Buys24h:      p.Txns["h24"].Buys,
		Sells24h:     p.Txns["h24"].Sells,
		Liquidity:    domain.LockUnknown,
		FetchedAt:    now,
	}
	if p.PairCreatedAt > 0 {
		s.PairCreatedAt = time.UnixMilli(p.PairCreatedAt).UTC()
	}
	s.OrganicScore = OrganicScore(s)
	s.QualityScore = QualityScore(s, now)
	return s
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
