package teleop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/lerobot-rlds/pkg/robot"
)

type fakeArm struct {
	mu       sync.Mutex
	pos      robot.Positions
	readErr  error
	written  []robot.Positions
	enabled  bool
	disabled bool
	closed   bool
}

func (a *fakeArm) ReadPositions(context.Context) (robot.Positions, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.readErr != nil {
		return nil, a.readErr
	}
	out := make(robot.Positions, len(a.pos))
	for k, v := range a.pos {
		out[k] = v
	}
	return out, nil
}

func (a *fakeArm) WritePositions(_ context.Context, p robot.Positions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.written = append(a.written, p)
	a.pos = p
	return nil
}

func (a *fakeArm) Enable(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = true
	return nil
}

func (a *fakeArm) Disable(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disabled = true
	return nil
}

func (a *fakeArm) Close() error {
	a.closed = true
	return nil
}

func TestStep(t *testing.T) {
	leader := &fakeArm{pos: robot.Positions{robot.ShoulderPan: 10, robot.Gripper: 50}}
	follower := &fakeArm{}
	c := New(leader, follower, 0, false)
	assert.Equal(t, DefaultHz, c.Hz())

	s := c.Step(t.Context())
	require.NoError(t, s.Error)
	assert.Equal(t, leader.pos, s.Leader)
	assert.Equal(t, leader.pos, s.Follower)
	require.Len(t, follower.written, 1)
}

func TestStep_Mirror(t *testing.T) {
	leader := &fakeArm{pos: robot.Positions{robot.ShoulderPan: 10, robot.WristRoll: 20, robot.Gripper: 50}}
	follower := &fakeArm{}
	c := New(leader, follower, 30, true)

	s := c.Step(t.Context())
	require.NoError(t, s.Error)
	assert.Equal(t, robot.Positions{robot.ShoulderPan: -10, robot.WristRoll: -20, robot.Gripper: 50}, s.Follower)
	assert.Equal(t, 10.0, s.Leader[robot.ShoulderPan])
}

func TestStep_ReadError(t *testing.T) {
	leader := &fakeArm{readErr: errors.New("timeout")}
	follower := &fakeArm{}
	c := New(leader, follower, 30, false)

	s := c.Step(t.Context())
	assert.EqualError(t, s.Error, "timeout")
	assert.Empty(t, follower.written)
	assert.Contains(t, <-c.Logs(), "Read error: timeout")
}

func TestStart(t *testing.T) {
	leader := &fakeArm{pos: robot.Positions{robot.ElbowFlex: 5}}
	follower := &fakeArm{}
	c := New(leader, follower, 200, false)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case s := <-c.States():
		assert.Equal(t, 5.0, s.Follower[robot.ElbowFlex])
	case <-time.After(2 * time.Second):
		t.Fatal("no state received")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	follower.mu.Lock()
	defer follower.mu.Unlock()
	assert.True(t, leader.disabled)
	assert.True(t, follower.enabled)
	assert.True(t, follower.disabled)

	require.NoError(t, c.Close())
	assert.True(t, leader.closed)
	assert.True(t, follower.closed)
}
