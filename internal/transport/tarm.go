package transport

import (
	"fmt"
	"log/slog"

	"github.com/tarm/serial"
)

func openTarm(cfg Config, logger *slog.Logger) (Conn, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readPoll,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}
	// tarm's Flush discards buffers, so there is no drain step.
	logger.Info("serial port open", "baud", cfg.Baud)
	return newPort(port, nil, logger), nil
}
