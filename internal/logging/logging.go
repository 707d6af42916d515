// Package logging builds the process loggers. Two named loggers share
// one core: "ops" for operational events and "security" for denials
// and gate interventions, so security events can be filtered or
// shipped separately.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Loggers bundles the process-wide loggers.
type Loggers struct {
	Ops      *zap.Logger
	Security *zap.Logger
}

// New builds production JSON loggers at the given level ("debug",
// "info", "warn", "error").
func New(level string) (*Loggers, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return &Loggers{
		Ops:      base.Named("ops"),
		Security: base.Named("security"),
	}, nil
}

// NewNop returns no-op loggers for tests.
func NewNop() *Loggers {
	return &Loggers{Ops: zap.NewNop(), Security: zap.NewNop()}
}

// Sync flushes both loggers.
func (l *Loggers) Sync() {
	l.Ops.Sync()
	l.Security.Sync()
}
