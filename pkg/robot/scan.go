package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

const scanTimeout = 2 * time.Second

func openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  busTimeout,
	})
}

// IsSOArm reports whether servos are exactly the IDs 1-6 of an SO-101 arm.
func IsSOArm(servos []feetech.FoundServo) bool {
	if len(servos) != NumMotors {
		return false
	}
	ids := make(map[int]bool, len(servos))
	for _, s := range servos {
		ids[s.ID] = true
	}
	for id := 1; id <= NumMotors; id++ {
		if !ids[id] {
			return false
		}
	}
	return true
}

// FindArms scans every serial port for an SO-101 arm and returns the ports
// that have one.
func FindArms(ctx context.Context) ([]string, error) {
	ports, err := Ports()
	if err != nil {
		return nil, err
	}

	var arms []string
	for _, port := range ports {
		bus, err := openBus(port)
		if err != nil {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, scanTimeout)
		servos, err := bus.Scan(sctx, 1, NumMotors)
		cancel()
		bus.Close()
		if err == nil && IsSOArm(servos) {
			arms = append(arms, port)
		}
	}
	return arms, nil
}

// Wiggle briefly moves the shoulder_pan servo of the arm on port so the user
// can tell which arm it is. Torque is off again afterwards.
func Wiggle(ctx context.Context, port string) error {
	bus, err := openBus(port)
	if err != nil {
		return fmt.Errorf("open bus %s: %w", port, err)
	}
	defer bus.Close()

	sctx, cancel := context.WithTimeout(ctx, scanTimeout)
	servos, err := bus.Scan(sctx, 1, 1)
	cancel()
	if err != nil || len(servos) == 0 {
		return fmt.Errorf("servo 1 not found on %s", port)
	}
	servo := feetech.NewServo(bus, servos[0].ID, servos[0].Model)

	origin, err := servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := servo.Enable(ctx); err != nil {
		return fmt.Errorf("enable servo: %w", err)
	}
	defer servo.Disable(ctx)

	const (
		amount = 30
		moveMs = 500
	)
	for _, target := range []int{origin + amount, origin - amount, origin} {
		servo.SetPositionWithTime(ctx, target, moveMs)
		time.Sleep((moveMs + 100) * time.Millisecond)
	}
	return nil
}

// RawArm reads uncalibrated positions, for calibration.
type RawArm struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
}

// OpenRaw opens the arm on port with torque disabled so it can be moved by hand.
func OpenRaw(ctx context.Context, port string) (*RawArm, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", port, err)
	}

	sctx, cancel := context.WithTimeout(ctx, scanTimeout)
	servos, err := bus.Scan(sctx, 1, NumMotors)
	cancel()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan %s: %w", port, err)
	}
	if !IsSOArm(servos) {
		bus.Close()
		return nil, fmt.Errorf("%s: not an SO-101 arm (expected %d servos with IDs 1-%d)", port, NumMotors, NumMotors)
	}

	ids := make([]int, NumMotors)
	for i := range ids {
		ids[i] = i + 1
	}
	a := &RawArm{bus: bus, group: feetech.NewServoGroupByIDs(bus, ids...)}
	if err := a.group.DisableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("disable torque: %w", err)
	}
	return a, nil
}

// Positions returns raw positions keyed by motor, assuming servo ID order.
func (a *RawArm) Positions(ctx context.Context) (map[MotorName]int, error) {
	raw, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	motors := AllMotors()
	out := make(map[MotorName]int, len(raw))
	for id, pos := range raw {
		if id >= 1 && id <= len(motors) {
			out[motors[id-1]] = pos
		}
	}
	return out, nil
}

// Close closes the bus.
func (a *RawArm) Close() error {
	return a.bus.Close()
}

// RangeTracker records the range of motion of each motor while the user
// moves the arm through it.
type RangeTracker struct {
	Current map[MotorName]int
	Min     map[MotorName]int
	Max     map[MotorName]int
}

// NewRangeTracker returns an empty tracker.
func NewRangeTracker() *RangeTracker {
	return &RangeTracker{
		Current: make(map[MotorName]int),
		Min:     make(map[MotorName]int),
		Max:     make(map[MotorName]int),
	}
}

// Observe records one reading.
func (t *RangeTracker) Observe(positions map[MotorName]int) {
	for name, pos := range positions {
		t.Current[name] = pos
		if lo, ok := t.Min[name]; !ok || pos < lo {
			t.Min[name] = pos
		}
		if hi, ok := t.Max[name]; !ok || pos > hi {
			t.Max[name] = pos
		}
	}
}

// Span returns the observed range of a motor.
func (t *RangeTracker) Span(name MotorName) int {
	return t.Max[name] - t.Min[name]
}

// Calibration returns the calibration for the observed ranges.
func (t *RangeTracker) Calibration() Calibration {
	cal := make(Calibration, NumMotors)
	for i, name := range AllMotors() {
		cal[name] = MotorCalibration{
			ID:       i + 1,
			RangeMin: t.Min[name],
			RangeMax: t.Max[name],
		}
	}
	return cal
}
