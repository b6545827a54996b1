// Package teleop runs the leader/follower control loop of an SO-101 arm pair.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/lerobot-rlds/pkg/robot"
)

// State is one tick of the control loop.
type State struct {
	// Leader holds the positions read from the leader, the commanded action.
	Leader robot.Positions
	// Follower holds the positions read back from the follower, the observed state.
	Follower  robot.Positions
	Timestamp time.Time
	Error     error
}

// Arm is the part of *robot.Arm the controller uses.
type Arm interface {
	ReadPositions(ctx context.Context) (robot.Positions, error)
	WritePositions(ctx context.Context, positions robot.Positions) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Close() error
}

// Controller manages the teleoperation control loop.
type Controller struct {
	leader   Arm
	follower Arm
	hz       int
	mirror   bool

	mu      sync.Mutex
	running bool
	stateCh chan State
	logCh   chan string
}

// Config holds configuration for the controller.
type Config struct {
	Leader   robot.ArmConfig
	Follower robot.ArmConfig
	Hz       int
	// Mirror inverts shoulder_pan and wrist_roll on the follower.
	Mirror bool
}

// DefaultHz is the control frequency when Config.Hz is unset.
const DefaultHz = 60

// NewController opens both arms.
func NewController(cfg Config) (*Controller, error) {
	leader, err := robot.NewArm(cfg.Leader)
	if err != nil {
		return nil, fmt.Errorf("create leader arm: %w", err)
	}

	follower, err := robot.NewArm(cfg.Follower)
	if err != nil {
		leader.Close()
		return nil, fmt.Errorf("create follower arm: %w", err)
	}

	return New(leader, follower, cfg.Hz, cfg.Mirror), nil
}

// New creates a controller for already opened arms.
func New(leader, follower Arm, hz int, mirror bool) *Controller {
	if hz <= 0 {
		hz = DefaultHz
	}
	return &Controller{
		leader:   leader,
		follower: follower,
		hz:       hz,
		mirror:   mirror,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}
}

// Close releases both arms.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return errors.Join(c.leader.Close(), c.follower.Close())
}

// States returns a channel that receives the latest state. Stale states are dropped.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
	}
}

// Start runs the control loop until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.leader.Disable(ctx); err != nil {
		c.log("Warning: failed to disable leader: %v", err)
	} else {
		c.log("Leader arm: torque disabled (passive mode)")
	}

	if err := c.follower.Enable(ctx); err != nil {
		c.log("Warning: failed to enable follower: %v", err)
	} else {
		c.log("Follower arm: torque enabled")
	}

	c.log("Teleoperation started at %d Hz", c.hz)

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.sendState(c.Step(ctx))
		}
	}
}

// Step runs one control tick: read the leader, command the follower and read it back.
func (c *Controller) Step(ctx context.Context) State {
	leader, err := c.leader.ReadPositions(ctx)
	if err != nil {
		c.log("Read error: %v", err)
		return State{Error: err, Timestamp: time.Now()}
	}

	target := leader
	if c.mirror {
		target = leader.Mirrored()
	}
	if err := c.follower.WritePositions(ctx, target); err != nil {
		c.log("Write error: %v", err)
	}

	follower, err := c.follower.ReadPositions(ctx)
	if err != nil {
		c.log("Follower read error: %v", err)
		return State{Leader: leader, Error: err, Timestamp: time.Now()}
	}

	return State{
		Leader:    leader,
		Follower:  follower,
		Timestamp: time.Now(),
	}
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.follower.Disable(context.Background()); err != nil {
		c.log("Warning: failed to disable follower: %v", err)
	} else {
		c.log("Follower arm: torque disabled")
	}
	c.log("Teleoperation stopped")
}
