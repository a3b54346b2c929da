// internal/position/manager.go
package position

import (
	"context"
	"errors"
	"fmt"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/dex"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/keylock"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/sizing"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

var (
	// ErrNotActive is returned when acting on a closed or failed position.
	ErrNotActive = errors.New("position is not active")
	// ErrAddRejected is returned when a rebuy fails its rules.
	ErrAddRejected = errors.New("rebuy rejected")
)

// Config configures the lifecycle manager.
type Config struct {
	Exit           ExitConfig
	Add            AddConfig
	LostTrackAfter int // consecutive ticks without a price
	PlatformFeeBps int
	SlippageBps    int
}

func DefaultConfig() Config {
	return Config{
		Exit:           DefaultExitConfig(),
		Add:            DefaultAddConfig(),
		LostTrackAfter: 2,
		PlatformFeeBps: 50,
		SlippageBps:    300,
	}
}

// Manager owns every state transition of a Position. All mutations of one
// position are serialized on its wallet and token.
type Manager struct {
	store  storage.Storage
	exec   dex.Executor
	bus    events.Publisher
	clock  clock.Clock
	locks  *keylock.Map
	cfg    Config
	logger *zap.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(store storage.Storage, exec dex.Executor, bus events.Publisher, clk clock.Clock, cfg Config, logger *zap.Logger) *Manager {
	if bus == nil {
		bus = events.Discard
	}
	return &Manager{
		store:  store,
		exec:   exec,
		bus:    bus,
		clock:  clk,
		locks:  keylock.New(),
		cfg:    cfg,
		logger: logger.Named("position"),
	}
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

func lockKey(wallet, token string) string { return wallet + "|" + token }

// OpenRequest describes a buy that passed consensus, the risk gate and sizing.
type OpenRequest struct {
	Wallet     string
	Snapshot   domain.TokenSnapshot
	Params     sizing.Params
	Amount     float64 // SOL including platform fee
	StopFactor float64 // 1 keeps the mode stop, below 1 tightens it
	FeeExempt  bool
}

// Open executes the buy and records a new Open position.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	unlock := m.locks.Lock(lockKey(req.Wallet, req.Snapshot.Address))
	defer unlock()

	log := logger.WithToken(logger.WithWallet(m.logger, req.Wallet), req.Snapshot.Address)

	if _, err := m.store.ActivePosition(ctx, req.Wallet, req.Snapshot.Address); err == nil {
		return nil, storage.ErrDuplicateOpen
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup position: %w", err)
	}

	fee := m.fee(req.Amount, req.FeeExempt)
	swapIn := req.Amount - fee
	res, err := m.exec.Swap(ctx, dex.SwapRequest{
		Wallet:      req.Wallet,
		Direction:   dex.Buy,
		Token:       req.Snapshot.Address,
		Amount:      swapIn,
		SlippageBps: m.cfg.SlippageBps,
	})
	if err != nil {
		m.tradeFailed(req.Wallet, req.Snapshot.Address, dex.Buy, err)
		return nil, fmt.Errorf("buy %s: %w", req.Snapshot.Address, err)
	}
	if res.AmountOut <= 0 {
		return nil, fmt.Errorf("buy %s: %w", req.Snapshot.Address, dex.ErrZeroOutput)
	}

	now := m.clock.Now()
	price := swapIn / res.AmountOut
	stop := req.Params.StopLossPct
	if req.StopFactor > 0 && req.StopFactor < 1 {
		stop *= req.StopFactor
	}
	conf := req.Params.Confidence * 100

	p := &domain.Position{
		ID:                uuid.NewString(),
		Wallet:            req.Wallet,
		Token:             req.Snapshot.Address,
		Symbol:            req.Snapshot.Symbol,
		State:             domain.StateOpen,
		Mode:              req.Params.Mode,
		EntryPrice:        price,
		SolCommitted:      req.Amount,
		OriginalStake:     req.Amount,
		Quantity:          res.AmountOut,
		EntryConfidence:   conf,
		LastBuyConfidence: conf,
		TargetPct:         req.Params.TargetPct,
		StopLossPct:       stop,
		MaxHold:           req.Params.MaxHold,
		PeakPrice:         price,
		Entry: domain.JournalSnapshot{
			Price:        price,
			Confidence:   conf,
			LiquidityUSD: req.Snapshot.LiquidityUSD,
			Volume24h:    req.Snapshot.Volume24h,
			Change24h:    req.Snapshot.Change24h,
			At:           now,
		},
		FeePaid:     fee,
		LastPrice:   price,
		LastCheckAt: now,
		OpenedAt:    now,
		EntrySig:    res.Signature,
	}
	if err := m.store.CreatePosition(ctx, p); err != nil {
		// Tokens are on chain but untracked; this needs an operator.
		log.Error("Bought but failed to record position",
			zap.String("signature", res.Signature), zap.Float64("quantity", res.AmountOut), zap.Error(err))
		return nil, fmt.Errorf("record position: %w", err)
	}
	m.adjustBudget(ctx, req.Wallet, req.Amount, true)

	log.Info("Position opened",
		zap.String("mode", string(p.Mode)),
		zap.Float64("sol", req.Amount),
		zap.Float64("fee", fee),
		zap.Float64("entry_price", price),
		zap.Float64("confidence", conf),
		zap.Float64("stop_pct", stop),
		zap.Float64("target_pct", p.TargetPct))
	m.publish(events.PositionOpenedEvent{
		BaseEvent:  events.NewBase(events.PositionOpened, now),
		PositionID: p.ID, Wallet: p.Wallet, Token: p.Token, Symbol: p.Symbol,
		Mode: string(p.Mode), SOL: req.Amount, Price: price, Confidence: conf, Signature: res.Signature,
	})
	return p.Clone(), nil
}

// Rebuy averages down a losing position when CanAdd allows it. amount is
// capped at the stake headroom.
func (m *Manager) Rebuy(ctx context.Context, id string, price, confidence, amount float64, feeExempt bool) (*domain.Position, error) {
	p, unlock, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := logger.WithToken(logger.WithWallet(m.logger, p.Wallet), p.Token)
	check := CanAdd(p, price, confidence, m.cfg.Add)
	logger.Decision(log, check.Verdict)
	if !check.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrAddRejected, check.Verdict)
	}
	if amount > check.MaxAdd {
		amount = check.MaxAdd
	}

	fee := m.fee(amount, feeExempt)
	swapIn := amount - fee
	res, err := m.exec.Swap(ctx, dex.SwapRequest{
		Wallet: p.Wallet, Direction: dex.Buy, Token: p.Token, Amount: swapIn, SlippageBps: m.cfg.SlippageBps,
	})
	if err != nil {
		m.tradeFailed(p.Wallet, p.Token, dex.Buy, err)
		return nil, fmt.Errorf("rebuy %s: %w", p.Token, err)
	}
	if res.AmountOut <= 0 {
		return nil, fmt.Errorf("rebuy %s: %w", p.Token, dex.ErrZeroOutput)
	}

	Merge(p, amount, swapIn/res.AmountOut, res.AmountOut, confidence, price)
	p.FeePaid += fee
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		log.Error("Rebought but failed to update position", zap.String("signature", res.Signature), zap.Error(err))
		return nil, fmt.Errorf("update position: %w", err)
	}
	m.adjustBudget(ctx, p.Wallet, amount, false)

	log.Info("Position rebought",
		zap.Int("rebuy_count", p.RebuyCount),
		zap.Float64("added_sol", amount),
		zap.Float64("entry_price", p.EntryPrice))
	m.publish(events.PositionReboughtEvent{
		BaseEvent:  events.NewBase(events.PositionRebought, m.clock.Now()),
		PositionID: p.ID, Wallet: p.Wallet, Token: p.Token, Symbol: p.Symbol,
		Added: amount, EntryPrice: p.EntryPrice, RebuyCount: p.RebuyCount,
	})
	return p.Clone(), nil
}

// CheckResult reports what a price check did.
type CheckResult struct {
	Position *domain.Position
	Exited   bool
	Lost     bool
	Reason   domain.ExitReason
}

// Check applies one monitor tick: it records the price, ratchets the
// trailing stop and fires any mechanical exit. ok=false means the price
// could not be resolved.
func (m *Manager) Check(ctx context.Context, id string, price float64, ok bool, exit domain.JournalSnapshot) (CheckResult, error) {
	p, unlock, err := m.acquire(ctx, id)
	if err != nil {
		return CheckResult{}, err
	}
	defer unlock()

	now := m.clock.Now()
	log := logger.WithToken(logger.WithWallet(m.logger, p.Wallet), p.Token)

	if !ok || price <= 0 {
		p.MissedPrices++
		p.LastCheckAt = now
		if p.MissedPrices >= m.cfg.LostTrackAfter {
			log.Warn("Price unresolvable, dropping position from tracking", zap.Int("missed", p.MissedPrices))
			return m.fail(ctx, p, domain.ExitLostTrack, nil)
		}
		if err := m.store.UpdatePosition(ctx, p); err != nil {
			return CheckResult{}, err
		}
		return CheckResult{Position: p.Clone()}, nil
	}

	p.MissedPrices = 0
	p.LastPrice = price
	p.LastCheckAt = now
	Observe(p, price, m.cfg.Exit)

	if reason, verdict, fire := MechanicalExit(p, price, now); fire {
		logger.Decision(log, verdict, zap.String("exit", string(reason)))
		return m.close(ctx, p, reason, price, exit)
	}
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Position: p.Clone()}, nil
}

// Advise applies a consensus re-evaluation and exits when the advisor
// filter allows it.
func (m *Manager) Advise(ctx context.Context, id string, price float64, r Reading, minProfitPct float64, exit domain.JournalSnapshot) (CheckResult, error) {
	p, unlock, err := m.acquire(ctx, id)
	if err != nil {
		return CheckResult{}, err
	}
	defer unlock()

	log := logger.WithToken(logger.WithWallet(m.logger, p.Wallet), p.Token)
	out := ApplyReading(p, price, r, minProfitPct, m.cfg.Exit)
	if out.Verdict.Gate != "" && !out.Exit {
		logger.Decision(log, out.Verdict)
	}
	if out.Exit {
		log.Info("Advisor exit", out.Verdict.Fields()...)
		return m.close(ctx, p, out.Reason, price, exit)
	}
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Position: p.Clone()}, nil
}

// Close sells the whole position for reason.
func (m *Manager) Close(ctx context.Context, id string, reason domain.ExitReason, price float64, exit domain.JournalSnapshot) (CheckResult, error) {
	p, unlock, err := m.acquire(ctx, id)
	if err != nil {
		return CheckResult{}, err
	}
	defer unlock()
	return m.close(ctx, p, reason, price, exit)
}

// Trim sells fraction of a position to bring it back under a cap. Stake and
// committed SOL shrink proportionally.
func (m *Manager) Trim(ctx context.Context, id string, fraction float64) (float64, error) {
	if fraction <= 0 || fraction >= 1 {
		return 0, fmt.Errorf("trim fraction %.4f out of range", fraction)
	}
	p, unlock, err := m.acquire(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	qty := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(fraction))
	res, err := m.exec.Swap(ctx, dex.SwapRequest{
		Wallet: p.Wallet, Direction: dex.Sell, Token: p.Token, Amount: qty.InexactFloat64(), SlippageBps: m.cfg.SlippageBps,
	})
	if err != nil {
		m.tradeFailed(p.Wallet, p.Token, dex.Sell, err)
		return 0, fmt.Errorf("trim %s: %w", p.Token, err)
	}

	keep := decimal.NewFromFloat(1 - fraction)
	released := decimal.NewFromFloat(p.SolCommitted).Mul(decimal.NewFromFloat(fraction))
	p.Quantity = decimal.NewFromFloat(p.Quantity).Sub(qty).InexactFloat64()
	p.SolCommitted = decimal.NewFromFloat(p.SolCommitted).Mul(keep).InexactFloat64()
	p.OriginalStake = decimal.NewFromFloat(p.OriginalStake).Mul(keep).InexactFloat64()
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return 0, err
	}
	m.adjustBudget(ctx, p.Wallet, -released.InexactFloat64(), false)

	logger.WithToken(logger.WithWallet(m.logger, p.Wallet), p.Token).Info("Position trimmed",
		zap.Float64("fraction", fraction),
		zap.Float64("sol_out", res.AmountOut),
		zap.String("signature", res.Signature))
	return res.AmountOut, nil
}

// acquire locks a position and loads its current state.
func (m *Manager) acquire(ctx context.Context, id string) (*domain.Position, func(), error) {
	p, err := m.store.GetPosition(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := m.locks.Lock(lockKey(p.Wallet, p.Token))
	// reload under the lock
	p, err = m.store.GetPosition(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if !p.State.Active() {
		unlock()
		return nil, nil, ErrNotActive
	}
	return p, unlock, nil
}

func (m *Manager) close(ctx context.Context, p *domain.Position, reason domain.ExitReason, price float64, exit domain.JournalSnapshot) (CheckResult, error) {
	log := logger.WithToken(logger.WithWallet(m.logger, p.Wallet), p.Token)
	prior := p.State
	if prior == domain.StateExiting {
		prior = domain.StateOpen
	}

	p.State = domain.StateExiting
	p.ExitReason = reason
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return CheckResult{}, fmt.Errorf("mark exiting: %w", err)
	}

	res, err := m.exec.Swap(ctx, dex.SwapRequest{
		Wallet: p.Wallet, Direction: dex.Sell, Token: p.Token, Amount: p.Quantity, SlippageBps: m.cfg.SlippageBps,
	})
	if err != nil {
		m.tradeFailed(p.Wallet, p.Token, dex.Sell, err)
		if dex.Unsellable(err) {
			log.Warn("Position unsellable", zap.Error(err))
			return m.fail(ctx, p, domain.ExitSellFailed, err)
		}
		p.State = prior
		p.ExitReason = domain.ExitNone
		p.SellFailures++
		if uerr := m.store.UpdatePosition(ctx, p); uerr != nil {
			log.Error("Failed to revert exiting state", zap.Error(uerr))
		}
		log.Warn("Sell failed, will retry next tick", zap.Int("failures", p.SellFailures), zap.Error(err))
		return CheckResult{Position: p.Clone()}, fmt.Errorf("sell %s: %w", p.Token, err)
	}

	now := m.clock.Now()
	p.State = domain.StateClosed
	p.ClosedAt = now
	p.SolReturned = res.AmountOut
	p.ExitSignature = res.Signature
	if p.Quantity > 0 {
		p.ExitPrice = res.AmountOut / p.Quantity
	} else {
		p.ExitPrice = price
	}
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		log.Error("Sold but failed to finalize position", zap.String("signature", res.Signature), zap.Error(err))
		return CheckResult{}, fmt.Errorf("finalize position: %w", err)
	}
	m.adjustBudget(ctx, p.Wallet, -p.SolCommitted, false)

	exit.Price = p.ExitPrice
	exit.At = now
	entry := Journal(p, exit)
	if err := m.store.AppendJournal(ctx, entry); err != nil {
		log.Error("Failed to append journal", zap.Error(err))
	}

	log.Info("Position closed",
		zap.String("reason", string(reason)),
		zap.Float64("sol_in", p.SolCommitted),
		zap.Float64("sol_out", p.SolReturned),
		zap.Float64("profit_pct", entry.ProfitPct),
		zap.Duration("held", entry.HeldFor))
	m.publish(events.PositionClosedEvent{
		BaseEvent:  events.NewBase(events.PositionClosed, now),
		PositionID: p.ID, Wallet: p.Wallet, Token: p.Token, Symbol: p.Symbol,
		Reason: string(reason), ProfitPct: entry.ProfitPct, SolIn: p.SolCommitted, SolOut: p.SolReturned,
		Outcome: string(entry.Outcome),
	})
	return CheckResult{Position: p.Clone(), Exited: true, Reason: reason}, nil
}

// fail removes a position from tracking without an execution record.
func (m *Manager) fail(ctx context.Context, p *domain.Position, reason domain.ExitReason, cause error) (CheckResult, error) {
	now := m.clock.Now()
	p.State = domain.StateFailed
	p.ExitReason = reason
	p.ClosedAt = now
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return CheckResult{}, fmt.Errorf("mark failed: %w", err)
	}
	m.adjustBudget(ctx, p.Wallet, -p.SolCommitted, false)

	ev := events.PositionFailedEvent{
		BaseEvent:  events.NewBase(events.PositionLost, now),
		PositionID: p.ID, Wallet: p.Wallet, Token: p.Token, Symbol: p.Symbol,
		Reason: string(reason),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	m.publish(ev)
	return CheckResult{Position: p.Clone(), Lost: true, Reason: reason}, nil
}

// Journal builds the round-trip record of a closed position.
func Journal(p *domain.Position, exit domain.JournalSnapshot) *domain.JournalEntry {
	in := decimal.NewFromFloat(p.SolCommitted)
	out := decimal.NewFromFloat(p.SolReturned)
	profit := 0.0
	if in.IsPositive() {
		profit = out.Sub(in).Div(in).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
	}
	return &domain.JournalEntry{
		ID:         uuid.NewString(),
		Wallet:     p.Wallet,
		Token:      p.Token,
		Symbol:     p.Symbol,
		Mode:       p.Mode,
		Entry:      p.Entry,
		Exit:       exit,
		SolIn:      p.SolCommitted,
		SolOut:     p.SolReturned,
		ProfitPct:  profit,
		FeePaid:    p.FeePaid,
		RebuyCount: p.RebuyCount,
		ExitReason: p.ExitReason,
		Outcome:    domain.ClassifyOutcome(profit),
		HeldFor:    p.ClosedAt.Sub(p.OpenedAt),
		CreatedAt:  p.ClosedAt,
	}
}

func (m *Manager) fee(amount float64, exempt bool) float64 {
	if exempt || m.cfg.PlatformFeeBps <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(int64(m.cfg.PlatformFeeBps))).Div(decimal.NewFromInt(10000)).InexactFloat64()
}

// adjustBudget moves UsedBudget by delta and optionally counts a trade.
func (m *Manager) adjustBudget(ctx context.Context, wallet string, delta float64, countTrade bool) {
	cfg, err := m.store.GetConfig(ctx, wallet)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("Budget update skipped", zap.String("wallet", logger.ShortAddress(wallet)), zap.Error(err))
		}
		return
	}
	cfg.UsedBudget = decimal.NewFromFloat(cfg.UsedBudget).Add(decimal.NewFromFloat(delta)).InexactFloat64()
	if cfg.UsedBudget < 0 {
		cfg.UsedBudget = 0
	}
	if countTrade {
		cfg.CountTrade(m.clock.Now())
	}
	cfg.UpdatedAt = m.clock.Now()
	if err := m.store.SaveConfig(ctx, cfg); err != nil {
		m.logger.Warn("Failed to save budget", zap.String("wallet", logger.ShortAddress(wallet)), zap.Error(err))
	}
}

func (m *Manager) tradeFailed(wallet, token string, dir dex.Direction, err error) {
	m.publish(events.TradeFailedEvent{
		BaseEvent: events.NewBase(events.TradeFailed, m.clock.Now()),
		Wallet:    wallet, Token: token, Direction: string(dir), Error: err.Error(),
	})
}

func (m *Manager) publish(ev events.Event) {
	if err := m.bus.Publish(ev); err != nil {
		m.logger.Debug("Event not published", zap.String("type", string(ev.Type())), zap.Error(err))
	}
}
