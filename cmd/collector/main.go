package main

import (
	"os"

	"collector/cmd/collector/cmd"
	"collector/internal/logging"
)

func main() {
	logging.InitFromEnv()
	if err := cmd.RootCmd().Execute(); err != nil {
		logging.L().Error("collector", "err", err)
		os.Exit(1)
	}
}
