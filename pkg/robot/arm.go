package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

const (
	baudRate   = 1_000_000
	busTimeout = 100 * time.Millisecond
)

// Arm represents a robot arm with multiple servos.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
}

// NewArm opens the bus of a configured arm.
func NewArm(cfg ArmConfig) (*Arm, error) {
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("arm on %s: %w", cfg.Port, err)
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  busTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", cfg.Port, err)
	}

	return &Arm{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, cfg.Calibration.MotorIDs()...),
		calibration: cfg.Calibration,
	}, nil
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable enables torque on all servos.
func (a *Arm) Enable(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// Disable disables torque on all servos.
func (a *Arm) Disable(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// ReadPositions reads all motors with one sync read and normalizes them.
func (a *Arm) ReadPositions(ctx context.Context) (Positions, error) {
	raw, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	return a.calibration.normalize(raw), nil
}

// WritePositions sends normalized target positions with one sync write.
func (a *Arm) WritePositions(ctx context.Context, positions Positions) error {
	if err := a.group.SetPositions(ctx, a.calibration.denormalize(positions)); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

func (c Calibration) normalize(raw map[int]int) Positions {
	out := make(Positions, len(raw))
	for id, pos := range raw {
		if name, mc, ok := c.ByID(id); ok {
			out[name] = mc.Normalize(pos)
		}
	}
	return out
}

func (c Calibration) denormalize(p Positions) feetech.PositionMap {
	out := make(feetech.PositionMap, len(p))
	for name, norm := range p {
		if mc, ok := c[name]; ok {
			out[mc.ID] = mc.Denormalize(norm)
		}
	}
	return out
}
