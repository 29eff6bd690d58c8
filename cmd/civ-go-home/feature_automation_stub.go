//go:build no_automation

package main

import (
	"log/slog"

	"civ-go-home/internal/station"
	"civ-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *station.Station, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
