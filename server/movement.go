package server

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"imsim/protocol"
)

// MoveKind 运动命令种类
type MoveKind uint8

const (
	MoveRun MoveKind = iota
	MoveAir
	MoveJump
	MoveCrouch
	MoveUncrouch
)

// MoveCommand 由输入样本翻译出的显式运动命令，统一交给 Dispatch 执行
type MoveCommand struct {
	Kind      MoveKind
	Direction mgl32.Vec3
}

const maxPitch = 89 * math32.Pi / 180

var worldUp = mgl32.Vec3{0, 1, 0}

// commandsFor 将一个输入样本翻译为本 Tick 的运动命令（顺序即执行顺序）
func commandsFor(a *Avatar, in protocol.InputSample) []MoveCommand {
	dir := a.Transform.Rotation.Rotate(mgl32.Vec3{in.Strafe, 0, in.Walk})
	if a.State == protocol.Airborne {
		return []MoveCommand{{Kind: MoveAir, Direction: dir}}
	}
	cmds := []MoveCommand{{Kind: MoveRun, Direction: dir}}
	switch {
	case in.Crouch == protocol.StartPress,
		in.Crouch == protocol.ContinuePress && !a.Crouched():
		cmds = append(cmds, MoveCommand{Kind: MoveCrouch, Direction: mgl32.Vec3{dir.X(), 0, dir.Z()}})
	case in.Crouch == protocol.ReleasePress:
		cmds = append(cmds, MoveCommand{Kind: MoveUncrouch})
	}
	if in.Jump == protocol.StartPress {
		cmds = append(cmds, MoveCommand{Kind: MoveJump})
	}
	return cmds
}

// Dispatch 执行一条运动命令；不满足前置条件时返回 false
func Dispatch(a *Avatar, cmd MoveCommand, dt float32) bool {
	grounded := a.State != protocol.Airborne
	switch cmd.Kind {
	case MoveRun:
		if !grounded {
			return false
		}
		a.Velocity = a.Velocity.Add(cmd.Direction.Mul(a.Tuning.Acceleration * dt))
	case MoveAir:
		if grounded {
			return false
		}
		a.Velocity = a.Velocity.Add(cmd.Direction.Mul(a.Tuning.Acceleration * dt))
	case MoveJump:
		if !grounded {
			return false
		}
		a.Velocity[1] = a.Tuning.JumpImpulse
		a.Grounded = false
		a.setState(protocol.Airborne)
	case MoveCrouch:
		if !grounded || a.Crouched() {
			return false
		}
		if cmd.Direction.Len() < 1e-6 {
			a.setState(protocol.Crouching)
			return true
		}
		// 沿移动方向的坡度为负（上坡）时不允许滑铲
		if slopeAlong(cmd.Direction, a.GroundNormal) < 0 {
			return false
		}
		a.setState(protocol.Sliding)
	case MoveUncrouch:
		if !a.Crouched() || a.HeadBlocked {
			return false
		}
		a.setState(protocol.Standing)
	default:
		return false
	}
	return true
}

// slopeAlong 地面沿水平方向 dir 的坡度；平地为 0，下坡为正
func slopeAlong(dir, normal mgl32.Vec3) float32 {
	flat := mgl32.Vec3{dir.X(), 0, dir.Z()}
	if flat.Len() < 1e-6 {
		return 0
	}
	return flat.Normalize().Dot(normal)
}

// applyInput 处理一个输入样本：先按当前朝向移动，再应用视角变化
func applyInput(a *Avatar, in protocol.InputSample, dt float32) {
	in.Strafe = clampAxis(in.Strafe)
	in.Walk = clampAxis(in.Walk)
	for _, cmd := range commandsFor(a, in) {
		Dispatch(a, cmd, dt)
	}
	applyLook(a, finite(in.YawDelta), finite(in.PitchDelta))
}

// applyLook 偏航绕 +Y 旋转头像；俯仰只记录在 Pitch 中（物理上锁定 X/Z 旋转）
func applyLook(a *Avatar, yawDeg, pitchDeg float32) {
	if yawDeg != 0 {
		yaw := mgl32.QuatRotate(mgl32.DegToRad(yawDeg), worldUp)
		a.Transform.Rotation = yaw.Mul(a.Transform.Rotation).Normalize()
	}
	if pitchDeg != 0 {
		a.Pitch = mgl32.Clamp(a.Pitch+mgl32.DegToRad(pitchDeg), -maxPitch, maxPitch)
	}
}

// dampAll 每 Tick 固定执行的水平阻尼，与是否收到输入无关
func dampAll(w *World) {
	w.Each(func(a *Avatar) {
		a.Velocity[0] *= a.Tuning.LateralDamping
		a.Velocity[2] *= a.Tuning.LateralDamping
	})
}

func clampAxis(v float32) float32 {
	return mgl32.Clamp(finite(v), -1, 1)
}

func finite(v float32) float32 {
	if math32.IsNaN(v) || math32.IsInf(v, 0) {
		return 0
	}
	return v
}
