// apertus-detect probes the host's serial devices for a bridge node and
// persists the winning device path to the translator's env file. It runs
// once and exits; rerunning never clobbers a config whose device still
// exists.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"apertus/internal/autodetect"
	"apertus/internal/config"
	"apertus/pkg/utils"
)

func main() {
	envFile := flag.String("env-file", config.DefaultEnvFile, "env file to read and update")
	baud := flag.Int("baud", config.DefaultBaud, "probe baud rate")
	timeout := flag.Duration("timeout", 3*time.Second, "per-device probe window")
	flag.Parse()

	logOptions := slog.HandlerOptions{ReplaceAttr: utils.SlogReplacer}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &logOptions))

	device, err := autodetect.Run(logger, autodetect.Options{
		EnvFile:      *envFile,
		Baud:         *baud,
		ProbeTimeout: *timeout,
	})
	if err != nil {
		if errors.Is(err, autodetect.ErrNoGateway) {
			logger.Warn("no bridge node found", slog.String("envFile", *envFile))
			os.Exit(1)
		}

		logger.Error("detection failed", utils.ErrAttr(err))
		os.Exit(1)
	}

	fmt.Println(device)
}
