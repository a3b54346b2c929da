// internal/dex/fallback.go
package dex

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FallbackExecutor tries the primary route and, when it fails before a
// signature exists, the secondary route once.
type FallbackExecutor struct {
	primary   Executor
	secondary Executor
	logger    *zap.Logger
}

// NewFallbackExecutor wires two routes. secondary may be nil.
func NewFallbackExecutor(primary, secondary Executor, logger *zap.Logger) *FallbackExecutor {
	return &FallbackExecutor{primary: primary, secondary: secondary, logger: logger.Named("dex")}
}

func (f *FallbackExecutor) Name() string {
	if f.secondary == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FallbackExecutor) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	res, err := f.primary.Swap(ctx, req)
	if err == nil {
		return res, nil
	}
	// A sent transaction may still land; never resubmit it elsewhere.
	if f.secondary == nil || res.Signature != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return res, err
	}

	f.logger.Warn("Primary route failed, trying secondary",
		zap.String("primary", f.primary.Name()),
		zap.String("secondary", f.secondary.Name()),
		zap.String("token", req.Token),
		zap.Error(err))

	res2, err2 := f.secondary.Swap(ctx, req)
	if err2 != nil {
		// Unsellable only if both routes agree.
		if Unsellable(err) && Unsellable(err2) {
			return res2, err2
		}
		return res2, fmt.Errorf("primary: %v; secondary: %w", err, stripUnsellable(err2))
	}
	return res2, nil
}

func stripUnsellable(err error) error {
	if Unsellable(err) {
		return errors.New(err.Error())
	}
	return err
}
