//go:build no_mqtt

package main

import (
	"log/slog"

	"civ-go-home/internal/station"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *station.Station, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
