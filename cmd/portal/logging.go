package main

import (
	"strings"

	auth "github.com/goliatone/go-budget-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

func newLogger(level string, debug bool) *glog.BaseLogger {
	lvl := glog.WithLevel(glog.Info)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		lvl = glog.WithLevel(glog.Trace)
	case "debug":
		lvl = glog.WithLevel(glog.Debug)
	case "warn", "warning":
		lvl = glog.WithLevel(glog.Warn)
	case "error":
		lvl = glog.WithLevel(glog.Error)
	}

	if debug {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("portal"),
			glog.WithAddSource(true),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}

	return glog.NewLogger(
		lvl,
		glog.WithName("portal"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// loggerProvider exposes glog named loggers to the portal packages.
func loggerProvider(lgr *glog.BaseLogger) auth.LoggerProvider {
	return auth.LoggerProviderFunc(func(name string) auth.Logger {
		return lgr.GetLogger(name)
	})
}
