package logger

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRingKeepsMostRecent(t *testing.T) {
	ring := NewRing(3)
	log := zap.New(ring.Core(zapcore.InfoLevel))

	for i := 0; i < 5; i++ {
		log.Info(fmt.Sprintf("line %d", i))
	}
	log.Debug("filtered")

	recent := ring.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "line 2", recent[0].Message)
	assert.Equal(t, "line 4", recent[2].Message)
	assert.Equal(t, uint64(5), ring.Total())

	last := ring.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "line 4", last[0].Message)
}

func TestRingConcurrentWrites(t *testing.T) {
	ring := NewRing(50)
	log := zap.New(ring.Core(zapcore.DebugLevel))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				log.Info("tick")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), ring.Total())
	assert.Len(t, ring.Recent(0), 50)
}

func TestDecisionLogsBlockAtWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	v := Verdict{Gate: "drawdown", Threshold: 20, Measured: 21, Reason: "portfolio 21.0% below peak"}
	Decision(log, v, zap.String("wallet", "w1"))

	entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "drawdown", ctx["gate"])
	assert.Equal(t, 21.0, ctx["measured"])
	assert.Equal(t, "w1", ctx["wallet"])
	assert.Contains(t, v.String(), "drawdown blocked")
}

func TestNewWritesToRotatingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "bot.log")
	cfg.Console = false
	ring := NewRing(10)

	log, err := New(cfg, ring.Core(zapcore.InfoLevel))
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, Sync(log))
	assert.Equal(t, uint64(1), ring.Total())
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "So11...1112", ShortAddress("So11111111111111111111111111111111111111112"))
	assert.Equal(t, "short", ShortAddress("short"))
}
