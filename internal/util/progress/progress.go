package progress

import (
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// New returns a console bar, or a silent one that still counts when visible is false
func New(max int, description string, visible bool) *progressbar.ProgressBar {
	if !visible {
		return progressbar.DefaultSilent(int64(max), description)
	}
	return progressbar.Default(int64(max), description)
}

// Add increments the progress bar, logging render failures instead of returning them
func Add(bar *progressbar.ProgressBar, n int, logger *zap.Logger) {
	if bar == nil || n == 0 {
		return
	}

	if err := bar.Add(n); err != nil && logger != nil {
		logger.Debug("failed to update progress bar", zap.Error(err))
	}
}
