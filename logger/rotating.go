package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alexhholmes/hfsbtree"
)

// RotatingConfig describes a size-rotated JSON log file.
type RotatingConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Level      string // debug, info, warn or error
}

// Rotating is a zap logger writing to a lumberjack-rotated file.
type Rotating struct {
	*Zap
	out *lumberjack.Logger
}

// NewRotating builds a hfsbtree.Logger that writes JSON lines to cfg.Path.
func NewRotating(cfg RotatingConfig) (*Rotating, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	out := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(out), level)
	return &Rotating{Zap: NewZap(zap.New(core)), out: out}, nil
}

var (
	_ hfsbtree.Logger = (*Zap)(nil)
	_ hfsbtree.Logger = (*Logrus)(nil)
	_ hfsbtree.Logger = (*Rotating)(nil)
)

// Close flushes buffered entries and closes the log file.
func (r *Rotating) Close() error {
	_ = r.Sync()
	return r.out.Close()
}
