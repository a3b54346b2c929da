// internal/dex/jupiter.go
package dex

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// KeySource returns the decrypted signing key of a wallet.
type KeySource interface {
	KeyFor(wallet string) (solana.PrivateKey, error)
}

// DecimalsSource resolves mint decimals.
type DecimalsSource interface {
	Decimals(ctx context.Context, mint string) (uint8, error)
}

// ChainClient is the subset of *rpc.Client used to send and confirm swaps.
type ChainClient interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// JupiterConfig configures one Jupiter swap API endpoint.
type JupiterConfig struct {
	Name        string
	BaseURL     string // e.g. https://api.jup.ag/swap/v1
	PriorityFee uint64 // lamports
	Timeout     time.Duration
	ConfirmWait time.Duration
}

// JupiterExecutor quotes, builds, signs and sends swaps through the Jupiter API.
type JupiterExecutor struct {
	cfg      JupiterConfig
	http     *http.Client
	keys     KeySource
	chain    ChainClient
	decimals DecimalsSource
	logger   *zap.Logger
}

// NewJupiterExecutor creates a Jupiter executor.
func NewJupiterExecutor(cfg JupiterConfig, keys KeySource, chain ChainClient, decimals DecimalsSource, logger *zap.Logger) *JupiterExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.ConfirmWait <= 0 {
		cfg.ConfirmWait = 45 * time.Second
	}
	return &JupiterExecutor{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		keys:     keys,
		chain:    chain,
		decimals: decimals,
		logger:   logger.Named("jupiter").With(zap.String("route", cfg.Name)),
	}
}

func (j *JupiterExecutor) Name() string { return j.cfg.Name }

// Swap executes req once. Quotes are retried, the transaction is not.
func (j *JupiterExecutor) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	key, err := j.keys.KeyFor(req.Wallet)
	if err != nil {
		return SwapResult{}, fmt.Errorf("signing key: %w", err)
	}
	inMint, outMint := req.mints()
	inDec, err := j.mintDecimals(ctx, inMint)
	if err != nil {
		return SwapResult{}, err
	}
	outDec, err := j.mintDecimals(ctx, outMint)
	if err != nil {
		return SwapResult{}, err
	}

	raw := ToRaw(req.Amount, inDec)
	if raw == 0 {
		return SwapResult{}, fmt.Errorf("amount %.12g rounds to zero", req.Amount)
	}

	quote, outRaw, err := j.quote(ctx, inMint, outMint, raw, req.SlippageBps)
	if err != nil {
		return SwapResult{}, err
	}

	txB64, err := j.buildSwap(ctx, quote, key.PublicKey())
	if err != nil {
		return SwapResult{}, err
	}
	sig, err := j.signAndSend(ctx, txB64, key)
	if err != nil {
		return SwapResult{}, err
	}
	if err := j.confirm(ctx, sig); err != nil {
		return SwapResult{Signature: sig.String()}, err
	}

	res := SwapResult{Success: true, Signature: sig.String(), AmountOut: FromRaw(outRaw, outDec), Route: j.cfg.Name}
	j.logger.Info("Swap confirmed",
		zap.String("direction", string(req.Direction)),
		zap.String("token", req.Token),
		zap.Float64("amount_in", req.Amount),
		zap.Float64("amount_out", res.AmountOut),
		zap.String("signature", res.Signature))
	return res, nil
}

func (j *JupiterExecutor) mintDecimals(ctx context.Context, mint string) (uint8, error) {
	if mint == SOLMint {
		return SOLDecimals, nil
	}
	d, err := j.decimals.Decimals(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("decimals of %s: %w", mint, err)
	}
	return d, nil
}

func (j *JupiterExecutor) quote(ctx context.Context, inMint, outMint string, amount uint64, slippageBps int) (map[string]interface{}, uint64, error) {
	q := url.Values{}
	q.Set("inputMint", inMint)
	q.Set("outputMint", outMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("swapMode", "ExactIn")
	quoteURL := strings.TrimRight(j.cfg.BaseURL, "/") + "/quote?" + q.Encode()

	operation := func() (map[string]interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, quoteURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := j.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("quote http %d", resp.StatusCode)
		}
		var quote map[string]interface{}
		if err := sonic.Unmarshal(body, &quote); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode quote: %w", err))
		}
		if msg, ok := quote["error"].(string); ok {
			if strings.Contains(strings.ToLower(msg), "route") {
				return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNoRoute, msg))
			}
			return nil, backoff.Permanent(fmt.Errorf("quote error: %s", msg))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("quote http %d", resp.StatusCode))
		}
		return quote, nil
	}

	quote, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
	if err != nil {
		return nil, 0, err
	}

	outStr, _ := quote["outAmount"].(string)
	out, err := strconv.ParseUint(outStr, 10, 64)
	if err != nil || out == 0 {
		return nil, 0, fmt.Errorf("%w: outAmount %q", ErrZeroOutput, outStr)
	}
	return quote, out, nil
}

func (j *JupiterExecutor) buildSwap(ctx context.Context, quote map[string]interface{}, user solana.PublicKey) (string, error) {
	body, err := sonic.Marshal(map[string]interface{}{
		"quoteResponse":             quote,
		"userPublicKey":             user.String(),
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": j.cfg.PriorityFee,
	})
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(j.cfg.BaseURL, "/")+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := j.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("swap http %d: %s", resp.StatusCode, string(data))
	}

	var swap struct {
		SwapTransaction string `json:"swapTransaction"`
		Error           string `json:"error"`
	}
	if err := sonic.Unmarshal(data, &swap); err != nil {
		return "", fmt.Errorf("decode swap: %w", err)
	}
	if swap.Error != "" || swap.SwapTransaction == "" {
		return "", fmt.Errorf("swap build failed: %s", swap.Error)
	}
	return swap.SwapTransaction, nil
}

func (j *JupiterExecutor) signAndSend(ctx context.Context, txB64 string, key solana.PrivateKey) (solana.Signature, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(txBytes)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("parse transaction: %w", err)
	}
	pub := key.PublicKey()
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return &key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := j.chain.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: send: %v", ErrRejected, err)
	}
	return sig, nil
}

var errPending = errors.New("signature pending")

func (j *JupiterExecutor) confirm(ctx context.Context, sig solana.Signature) error {
	b := backoff.NewConstantBackOff(time.Second)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		res, err := j.chain.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return struct{}{}, err
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return struct{}{}, errPending
		}
		st := res.Value[0]
		if st.Err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrRejected, st.Err))
		}
		if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return struct{}{}, nil
		}
		return struct{}{}, errPending
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(j.cfg.ConfirmWait))
	if err != nil {
		return fmt.Errorf("confirm %s: %w", sig, err)
	}
	return nil
}

// ToRaw converts a UI amount to base units, truncating.
func ToRaw(amount float64, decimals uint8) uint64 {
	d := decimal.NewFromFloat(amount).Shift(int32(decimals)).Truncate(0)
	if d.Sign() <= 0 {
		return 0
	}
	return d.BigInt().Uint64()
}

// FromRaw converts base units to a UI amount.
func FromRaw(raw uint64, decimals uint8) float64 {
	f, _ := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals)).Float64()
	return f
}
