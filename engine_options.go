package lava

import "go.uber.org/zap"

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger to the engine and to readers it opens.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOpener replaces the storage dispatch used to open index files.
func WithOpener(open OpenFunc) Option {
	return func(e *Engine) { e.open = open }
}
