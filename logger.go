package hfsbtree

// Logger receives lifecycle events and corruption reports. Its method set
// matches slog.Logger, and package logger adapts zap and logrus to it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// DiscardLogger drops every event. It is the default.
type DiscardLogger struct{}

func (DiscardLogger) Error(string, ...any) {}

func (DiscardLogger) Warn(string, ...any) {}

func (DiscardLogger) Info(string, ...any) {}

// treeLogger tags every event with the type bytes of the tree that raised
// it, so a catalog and an extents tree can share one sink.
type treeLogger struct {
	Logger
	tags []any
}

func newTreeLogger(l Logger, h Header) Logger {
	if l == nil {
		return DiscardLogger{}
	}
	if _, ok := l.(DiscardLogger); ok {
		return l
	}
	return &treeLogger{Logger: l, tags: []any{"btree_type", h.BTreeType, "key_type", h.KeyType}}
}

func (l *treeLogger) Error(msg string, args ...any) { l.Logger.Error(msg, l.with(args)...) }

func (l *treeLogger) Warn(msg string, args ...any) { l.Logger.Warn(msg, l.with(args)...) }

func (l *treeLogger) Info(msg string, args ...any) { l.Logger.Info(msg, l.with(args)...) }

func (l *treeLogger) with(args []any) []any {
	out := make([]any, 0, len(args)+len(l.tags))
	out = append(out, args...)
	return append(out, l.tags...)
}
