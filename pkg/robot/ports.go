package robot

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// Ports lists serial ports that could host an arm.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	// macOS exposes Bluetooth devices as serial ports.
	return slices.DeleteFunc(ports, func(p string) bool {
		return strings.Contains(p, "Bluetooth")
	}), nil
}

// CheckPorts returns an error naming the first configured port that is not present.
func (c *Config) CheckPorts() error {
	ports, err := Ports()
	if err != nil {
		return err
	}
	for _, p := range []string{c.Leader.Port, c.Follower.Port} {
		if !slices.Contains(ports, p) {
			return fmt.Errorf("serial port %s not found (is the arm plugged in?)", p)
		}
	}
	return nil
}
