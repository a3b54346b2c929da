package blockchain

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRPC struct {
	lamports    uint64
	decimals    uint8
	supplyCalls int
	supplyErr   error
}

func (f *fakeRPC) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.lamports}, nil
}

func (f *fakeRPC) GetTokenSupply(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	f.supplyCalls++
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{Decimals: f.decimals}}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(context.Context, *solana.Transaction, rpc.TransactionOpts) (solana.Signature, error) {
	return solana.Signature{}, errors.New("not used")
}

func (f *fakeRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return &rpc.GetSignatureStatusesResult{}, nil
}

func TestClient_BalanceOf(t *testing.T) {
	c := NewClientWithRPC(&fakeRPC{lamports: 1_500_000_000}, zap.NewNop())
	addr := solana.NewWallet().PublicKey().String()

	sol, err := c.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1.5, sol)

	_, err = c.BalanceOf(context.Background(), "not-a-key")
	assert.Error(t, err)
}

func TestClient_DecimalsCached(t *testing.T) {
	f := &fakeRPC{decimals: 6}
	c := NewClientWithRPC(f, zap.NewNop())
	mint := solana.NewWallet().PublicKey().String()

	for i := 0; i < 3; i++ {
		d, err := c.Decimals(context.Background(), mint)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), d)
	}
	assert.Equal(t, 1, f.supplyCalls)

	f.supplyErr = errors.New("rpc down")
	_, err := c.Decimals(context.Background(), solana.NewWallet().PublicKey().String())
	assert.Error(t, err)
}
