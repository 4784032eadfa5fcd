package logger

import (
	"go.uber.org/zap"
)

// Zap adapts a zap.Logger to hfsbtree.Logger through its sugared form.
type Zap struct {
	logger *zap.SugaredLogger
}

// NewZap wraps logger.
func NewZap(logger *zap.Logger) *Zap {
	return &Zap{logger: logger.Sugar()}
}

// With returns a logger that adds the key-value pairs to every event.
func (z *Zap) With(args ...any) *Zap {
	return &Zap{logger: z.logger.With(args...)}
}

func (z *Zap) Error(msg string, args ...any) {
	z.logger.Errorw(msg, args...)
}

func (z *Zap) Warn(msg string, args ...any) {
	z.logger.Warnw(msg, args...)
}

func (z *Zap) Info(msg string, args ...any) {
	z.logger.Infow(msg, args...)
}

// Sync flushes buffered entries.
func (z *Zap) Sync() error {
	return z.logger.Sync()
}
