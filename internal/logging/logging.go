// Package logging builds the go-kit loggers used across wavesync.
package logging

import (
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kevinxiao27/wavesync/internal/config"
)

// New returns a leveled logger writing to w, stamped with time and caller.
func New(w io.Writer, cfg config.LogConfig) log.Logger {
	w = log.NewSyncWriter(w)

	var logger log.Logger
	if cfg.Format == "json" {
		logger = log.NewJSONLogger(w)
	} else {
		logger = log.NewLogfmtLogger(w)
	}
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)
	return level.NewFilter(logger, Allow(cfg.Level))
}

// Allow maps a level name to a filter option. Unknown names allow
// everything.
func Allow(name string) level.Option {
	switch name {
	case "info":
		return level.AllowInfo()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	}
	return level.AllowDebug()
}
