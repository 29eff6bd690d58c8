//go:build !no_automation

package main

import (
	"log/slog"

	"civ-go-home/internal/automation"
	"civ-go-home/internal/station"
	"civ-go-home/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(st *station.Station, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(st, scriptMgr, logger, automation.Config{
		CallTimeout: cfg.Automation.CallTimeout,
		RunTimeout:  cfg.Automation.RunTimeout,
	})
	engine.Start()

	opts := []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
	return &autoStopper{engine: engine}, opts
}
