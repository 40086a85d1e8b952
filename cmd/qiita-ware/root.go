package main

import (
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Use:   "qiita-ware",
	Short: "Dispatch analysis jobs and stream their progress",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}

// initLogger replaces the global zap logger with one at the configured
// level. The returned func restores the previous one.
func initLogger(cfg *config.Config) (*zap.Logger, func()) {
	logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger := log.InitLog(logLvl, cfg.Service.LogFormat)
	undo := zap.ReplaceGlobals(logger)

	return logger, func() {
		_ = logger.Sync()
		undo()
	}
}
