package transport

import (
	"fmt"
	"log/slog"

	"go.bug.st/serial"
)

func openBugst(cfg Config, logger *slog.Logger) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout on %s: %w", cfg.Port, err)
	}
	// Level converters on USB CI-V cables are often powered from DTR/RTS.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	_ = port.ResetInputBuffer()

	logger.Info("serial port open", "baud", cfg.Baud)
	return newPort(port, port.Drain, logger), nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	return ports, nil
}
