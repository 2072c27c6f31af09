// Command verify checks credentials, pricing, and account health without
// placing a single order, and can print the grid profitability report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"oanda-grid-bot/internal/app"
	"oanda-grid-bot/internal/config"
	"oanda-grid-bot/internal/logging"
)

const verifyTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	report := flag.Bool("report", false, "print the grid profitability report and exit")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	if *report {
		r, err := application.Report(ctx)
		if err != nil {
			fatal(err)
		}
		payload, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(payload))
		return
	}

	if err := application.Verify(ctx); err != nil {
		log.Error("verify failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println("verify passed")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify: %v\n", err)
	os.Exit(1)
}
