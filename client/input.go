package client

import (
	"imsim/protocol"
)

// Key 客户端关心的按键
type Key uint8

const (
	KeyA Key = iota
	KeyD
	KeyS
	KeyW
	KeyCrouch
	KeyJump
	numKeys
)

const (
	DefaultSensitivity float32 = 1.0
	// lookScale 每单位鼠标位移对应的角度（度/秒）
	lookScale float32 = 45
)

// InputAccumulator 在两次发送之间累积输入。
// 同一窗口内对同一按键的多次记录取更重要的一个（边沿压过持续按住），
// 鼠标位移按灵敏度换算成角度后累加。
type InputAccumulator struct {
	SensitivityX float32
	SensitivityY float32

	keys  [numKeys]protocol.DigitalInput
	pitch float32
	yaw   float32
}

func NewInputAccumulator() *InputAccumulator {
	return &InputAccumulator{SensitivityX: DefaultSensitivity, SensitivityY: DefaultSensitivity}
}

// Record 记录一次按键状态
func (a *InputAccumulator) Record(k Key, d protocol.DigitalInput) {
	if k >= numKeys || !d.Valid() {
		return
	}
	a.keys[k] = a.keys[k].Merge(d)
}

func (a *InputAccumulator) Press(k Key)   { a.Record(k, protocol.StartPress) }
func (a *InputAccumulator) Hold(k Key)    { a.Record(k, protocol.ContinuePress) }
func (a *InputAccumulator) Release(k Key) { a.Record(k, protocol.ReleasePress) }

// Get 当前窗口内记录的按键状态
func (a *InputAccumulator) Get(k Key) protocol.DigitalInput {
	if k >= numKeys {
		return protocol.NotPressed
	}
	return a.keys[k]
}

// MouseMotion 累加一帧的鼠标位移（dx 向右、dy 向下为正）
func (a *InputAccumulator) MouseMotion(dx, dy, dt float32) {
	a.pitch += dt * a.SensitivityY * lookScale * -dy
	a.yaw += dt * a.SensitivityX * lookScale * -dx
}

// Flush 生成本窗口的输入样本并清空累积状态
func (a *InputAccumulator) Flush() protocol.InputSample {
	s := protocol.InputSample{
		Strafe:     axis(a.keys[KeyA], a.keys[KeyD]),
		Walk:       axis(a.keys[KeyS], a.keys[KeyW]),
		PitchDelta: a.pitch,
		YawDelta:   a.yaw,
		Crouch:     a.keys[KeyCrouch],
		Jump:       a.keys[KeyJump],
	}
	a.Reset()
	return s
}

func (a *InputAccumulator) Reset() {
	a.keys = [numKeys]protocol.DigitalInput{}
	a.pitch, a.yaw = 0, 0
}

func axis(neg, pos protocol.DigitalInput) float32 {
	var v float32
	if neg.IsPressed() {
		v--
	}
	if pos.IsPressed() {
		v++
	}
	return v
}
