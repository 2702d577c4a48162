package main

import (
	"log"
	"os"

	"github.com/mkonduru/flowd/internal/config"
	"github.com/mkonduru/flowd/internal/dispatch"
	"github.com/mkonduru/flowd/internal/store"
	"github.com/mkonduru/flowd/internal/supervisor"
	"github.com/mkonduru/flowd/internal/workflow"
	"github.com/mkonduru/flowd/workflows/coffeeshop"
	"github.com/mkonduru/flowd/workflows/helloworld"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("flowd: starting",
		"exec_addr", cfg.ExecAddr,
		"control_addr", cfg.ControlAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := workflow.NewRegistry()
	if err := helloworld.Register(reg); err != nil {
		log.Fatalf("failed to register hello-world workflows: %v", err)
	}
	if err := coffeeshop.Register(reg); err != nil {
		log.Fatalf("failed to register coffee-shop workflows: %v", err)
	}

	disp := dispatch.NewDispatcher(reg, db, logger)
	sup := supervisor.New(cfg.ExecAddr, cfg.ControlAddr, reg, disp, db, logger, cfg.DrainGrace)

	if err := sup.Run(); err != nil {
		log.Fatalf("supervisor error: %v", err)
	}
}
