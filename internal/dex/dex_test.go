package dex

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticKeys struct{ key solana.PrivateKey }

func (k staticKeys) KeyFor(string) (solana.PrivateKey, error) { return k.key, nil }

type staticDecimals map[string]uint8

func (d staticDecimals) Decimals(_ context.Context, mint string) (uint8, error) {
	if v, ok := d[mint]; ok {
		return v, nil
	}
	return 0, errors.New("unknown mint")
}

type fakeChain struct {
	sent   atomic.Int32
	status rpc.ConfirmationStatusType
	txErr  interface{}
}

func (c *fakeChain) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	c.sent.Add(1)
	return tx.Signatures[0], nil
}

func (c *fakeChain) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{ConfirmationStatus: c.status, Err: c.txErr}},
	}, nil
}

func unsignedSwapTx(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	ix := system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func jupiterServer(t *testing.T, quote map[string]interface{}, txB64 string, quoteHits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			quoteHits.Add(1)
			assert.Equal(t, "ExactIn", r.URL.Query().Get("swapMode"))
			body, _ := sonic.Marshal(quote)
			_, _ = w.Write(body)
		case "/swap":
			var req map[string]interface{}
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, sonic.Unmarshal(raw, &req))
			assert.Equal(t, true, req["wrapAndUnwrapSol"])
			body, _ := sonic.Marshal(map[string]string{"swapTransaction": txB64})
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestJupiterExecutor_Buy(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	var hits atomic.Int32
	srv := jupiterServer(t, map[string]interface{}{"outAmount": "2500000", "inAmount": "100000000"}, unsignedSwapTx(t, key.PublicKey()), &hits)
	defer srv.Close()

	chain := &fakeChain{status: rpc.ConfirmationStatusConfirmed}
	ex := NewJupiterExecutor(JupiterConfig{Name: "jupiter", BaseURL: srv.URL}, staticKeys{key}, chain, staticDecimals{"TOKEN": 6}, zap.NewNop())

	res, err := ex.Swap(context.Background(), SwapRequest{Wallet: "w", Direction: Buy, Token: "TOKEN", Amount: 0.1, SlippageBps: 100})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 2.5, res.AmountOut, 1e-9)
	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, int32(1), chain.sent.Load())
	assert.Equal(t, int32(1), hits.Load())
}

func TestJupiterExecutor_NoRoute(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	var hits atomic.Int32
	srv := jupiterServer(t, map[string]interface{}{"error": "Could not find any route"}, "", &hits)
	defer srv.Close()

	chain := &fakeChain{status: rpc.ConfirmationStatusConfirmed}
	ex := NewJupiterExecutor(JupiterConfig{Name: "jupiter", BaseURL: srv.URL}, staticKeys{key}, chain, staticDecimals{"TOKEN": 6}, zap.NewNop())

	_, err := ex.Swap(context.Background(), SwapRequest{Wallet: "w", Direction: Sell, Token: "TOKEN", Amount: 10, SlippageBps: 100})
	require.ErrorIs(t, err, ErrNoRoute)
	assert.True(t, Unsellable(err))
	assert.Equal(t, int32(1), hits.Load(), "no-route is permanent")
	assert.Zero(t, chain.sent.Load())
}

func TestJupiterExecutor_ZeroOutput(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	var hits atomic.Int32
	srv := jupiterServer(t, map[string]interface{}{"outAmount": "0"}, "", &hits)
	defer srv.Close()

	ex := NewJupiterExecutor(JupiterConfig{Name: "jupiter", BaseURL: srv.URL}, staticKeys{key}, &fakeChain{}, staticDecimals{"TOKEN": 6}, zap.NewNop())
	_, err := ex.Swap(context.Background(), SwapRequest{Wallet: "w", Direction: Sell, Token: "TOKEN", Amount: 10})
	assert.ErrorIs(t, err, ErrZeroOutput)
}

func TestJupiterExecutor_RejectedOnChain(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	var hits atomic.Int32
	srv := jupiterServer(t, map[string]interface{}{"outAmount": "5"}, unsignedSwapTx(t, key.PublicKey()), &hits)
	defer srv.Close()

	chain := &fakeChain{txErr: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}}
	ex := NewJupiterExecutor(JupiterConfig{Name: "jupiter", BaseURL: srv.URL}, staticKeys{key}, chain, staticDecimals{"TOKEN": 6}, zap.NewNop())

	res, err := ex.Swap(context.Background(), SwapRequest{Wallet: "w", Direction: Buy, Token: "TOKEN", Amount: 0.1})
	require.ErrorIs(t, err, ErrRejected)
	assert.NotEmpty(t, res.Signature)
	assert.False(t, res.Success)
}

type scriptedExecutor struct {
	name  string
	res   SwapResult
	err   error
	calls int
}

func (s *scriptedExecutor) Name() string { return s.name }

func (s *scriptedExecutor) Swap(context.Context, SwapRequest) (SwapResult, error) {
	s.calls++
	return s.res, s.err
}

func TestFallbackExecutor(t *testing.T) {
	t.Run("primary ok", func(t *testing.T) {
		p := &scriptedExecutor{name: "a", res: SwapResult{Success: true}}
		s := &scriptedExecutor{name: "b"}
		_, err := NewFallbackExecutor(p, s, zap.NewNop()).Swap(context.Background(), SwapRequest{})
		require.NoError(t, err)
		assert.Zero(t, s.calls)
	})

	t.Run("secondary once", func(t *testing.T) {
		p := &scriptedExecutor{name: "a", err: errors.New("timeout")}
		s := &scriptedExecutor{name: "b", res: SwapResult{Success: true, Signature: "sig"}}
		res, err := NewFallbackExecutor(p, s, zap.NewNop()).Swap(context.Background(), SwapRequest{})
		require.NoError(t, err)
		assert.Equal(t, "sig", res.Signature)
		assert.Equal(t, 1, s.calls)
	})

	t.Run("sent transaction is not resubmitted", func(t *testing.T) {
		p := &scriptedExecutor{name: "a", res: SwapResult{Signature: "sig"}, err: ErrRejected}
		s := &scriptedExecutor{name: "b"}
		_, err := NewFallbackExecutor(p, s, zap.NewNop()).Swap(context.Background(), SwapRequest{})
		assert.ErrorIs(t, err, ErrRejected)
		assert.Zero(t, s.calls)
	})

	t.Run("unsellable only when both agree", func(t *testing.T) {
		p := &scriptedExecutor{name: "a", err: ErrNoRoute}
		s := &scriptedExecutor{name: "b", err: errors.New("http 500")}
		_, err := NewFallbackExecutor(p, s, zap.NewNop()).Swap(context.Background(), SwapRequest{})
		require.Error(t, err)
		assert.False(t, Unsellable(err))

		s.err = ErrZeroOutput
		_, err = NewFallbackExecutor(p, s, zap.NewNop()).Swap(context.Background(), SwapRequest{})
		assert.True(t, Unsellable(err))
	})
}

type fixedPrice float64

func (f fixedPrice) PriceInSOL(context.Context, string) (float64, error) { return float64(f), nil }

func TestPaperExecutor(t *testing.T) {
	ex := NewPaperExecutor(fixedPrice(0.01), 0, zap.NewNop())
	res, err := ex.Swap(context.Background(), SwapRequest{Direction: Buy, Token: "T", Amount: 1})
	require.NoError(t, err)
	assert.InDelta(t, 100, res.AmountOut, 1e-9)

	res, err = ex.Swap(context.Background(), SwapRequest{Direction: Sell, Token: "T", Amount: 100})
	require.NoError(t, err)
	assert.InDelta(t, 1, res.AmountOut, 1e-9)

	_, err = NewPaperExecutor(fixedPrice(0), 0, zap.NewNop()).Swap(context.Background(), SwapRequest{Direction: Sell, Token: "T", Amount: 1})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRawConversion(t *testing.T) {
	assert.Equal(t, uint64(100000000), ToRaw(0.1, 9))
	assert.Equal(t, uint64(1234567), ToRaw(1.2345678, 6))
	assert.Zero(t, ToRaw(-1, 6))
	assert.InDelta(t, 1.5, FromRaw(1500000, 6), 1e-12)
}
