package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/cli"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/config"
	"metalcalc_backend/pkg/database"
	"metalcalc_backend/pkg/logging"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Format: "console", Level: cfg.Log.Level, Component: "admin"})

	open := func(ctx context.Context) (cli.Backend, func(), error) {
		if cfg.Database.URL == "" {
			return nil, nil, errors.New("DATABASE_URL is not set")
		}
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(db, model.Tables()...); err != nil {
			return nil, nil, err
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		// Writes still NOTIFY, so a running API pushes the change to its streams.
		svc := billing.NewService(db, billing.Config{TrialLimit: cfg.Billing.TrialLimit}, nil, nil, logging.WithComponent("billing"))
		return svc, closer, nil
	}

	if err := cli.NewRootCmd(open, os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
