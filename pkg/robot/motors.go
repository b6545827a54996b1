// Package robot drives SO-101 arms over a Feetech STS servo bus.
package robot

// MotorName identifies a motor in the arm.
type MotorName string

// Motor names for the SO-101 arm.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// NumMotors is the number of joints of an SO-101 arm.
const NumMotors = 6

// AllMotors returns all motor names in servo ID order (1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// Positions holds normalized joint positions in [-100, 100].
type Positions map[MotorName]float64

// Vector returns the positions in AllMotors order. Missing motors read as 0.
func (p Positions) Vector() []float32 {
	motors := AllMotors()
	out := make([]float32, len(motors))
	for i, name := range motors {
		out[i] = float32(p[name])
	}
	return out
}

// Mirrored inverts shoulder_pan and wrist_roll, for a follower facing the leader.
func (p Positions) Mirrored() Positions {
	out := make(Positions, len(p))
	for name, pos := range p {
		if name == ShoulderPan || name == WristRoll {
			pos = -pos
		}
		out[name] = pos
	}
	return out
}

// Changed reports whether any motor moved since prev.
func (p Positions) Changed(prev Positions) bool {
	if prev == nil {
		return true
	}
	for name, pos := range p {
		if last, ok := prev[name]; !ok || pos != last {
			return true
		}
	}
	return false
}
