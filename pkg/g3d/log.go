package g3d

import "go.uber.org/zap"

var log = zap.NewNop()

// SetLogger sets the logger used for non-fatal decode diagnostics.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}
