package main

import (
	"os"

	"github.com/livelaunch/platform/pkg/common/logger"
)

func main() {
	logger.Init()
	if err := newRootCommand().Execute(); err != nil {
		logger.Log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
