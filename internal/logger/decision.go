// internal/logger/decision.go
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Verdict is the audit record of a policy gate. Blocked and skipped trades
// must always be reconstructible from the gate, threshold and measured value.
type Verdict struct {
	Gate      string
	Passed    bool
	Threshold float64
	Measured  float64
	Reason    string
}

// String renders the verdict as a human readable sentence.
func (v Verdict) String() string {
	status := "blocked"
	if v.Passed {
		status = "passed"
	}
	if v.Reason == "" {
		return fmt.Sprintf("%s %s: measured %.4g vs threshold %.4g", v.Gate, status, v.Measured, v.Threshold)
	}
	return fmt.Sprintf("%s %s: %s (measured %.4g, threshold %.4g)", v.Gate, status, v.Reason, v.Measured, v.Threshold)
}

// Fields returns the zap fields for a verdict.
func (v Verdict) Fields() []zap.Field {
	return []zap.Field{
		zap.String("gate", v.Gate),
		zap.Bool("passed", v.Passed),
		zap.Float64("threshold", v.Threshold),
		zap.Float64("measured", v.Measured),
		zap.String("reason", v.Reason),
	}
}

// Decision writes a verdict. Blocks are logged at Warn so they survive production filtering.
func Decision(l *zap.Logger, v Verdict, fields ...zap.Field) {
	fields = append(fields, v.Fields()...)
	if v.Passed {
		l.Debug("Policy gate passed", fields...)
		return
	}
	l.Warn("Policy gate blocked trade", fields...)
}
