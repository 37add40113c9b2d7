package server

import (
	"github.com/go-gl/mathgl/mgl32"

	"imsim/protocol"
)

// AvatarHandle 头像句柄，由 World 分配
type AvatarHandle uint32

// avatarHeight 头像胶囊体高度
const avatarHeight float32 = 2.0

// PartRole 碰撞子部件
type PartRole uint8

const (
	UpperPart PartRole = iota
	LowerPart
)

// ColliderPart 挂在头像上的碰撞球；Sensor 为真时只检测不阻挡
type ColliderPart struct {
	Role   PartRole
	Offset mgl32.Vec3
	Radius float32
	Sensor bool
}

// ColliderConfig 运动状态对应的碰撞配置
type ColliderConfig struct {
	UpperSensor bool
}

// ColliderFor 纯函数：蹲伏和滑铲时上半身变为传感器，可以钻过低矮障碍
func ColliderFor(state protocol.MoveState) ColliderConfig {
	switch state {
	case protocol.Crouching, protocol.Sliding:
		return ColliderConfig{UpperSensor: true}
	default:
		return ColliderConfig{}
	}
}

// Avatar 连接在世界中的权威角色
type Avatar struct {
	Handle AvatarHandle
	Owner  protocol.ConnID // 创建后不再变化
	Name   string
	Tint   protocol.Tint

	Transform  protocol.Transform // 权威变换，只由物理与输入修改
	Replicated protocol.Transform // 复制变换，只由镜像步骤写入

	Velocity mgl32.Vec3
	Tuning   MovementTuning

	State        protocol.MoveState
	Grounded     bool
	GroundNormal mgl32.Vec3
	HeadBlocked  bool
	Pitch        float32

	Parts []ColliderPart
}

// setState 切换运动状态，并显式刷新碰撞配置
func (a *Avatar) setState(s protocol.MoveState) {
	a.State = s
	a.applyCollider(ColliderFor(s))
}

func (a *Avatar) applyCollider(cfg ColliderConfig) {
	for i := range a.Parts {
		if a.Parts[i].Role == UpperPart {
			a.Parts[i].Sensor = cfg.UpperSensor
		}
	}
}

// part 返回指定角色的碰撞部件
func (a *Avatar) part(role PartRole) (ColliderPart, bool) {
	for _, p := range a.Parts {
		if p.Role == role {
			return p, true
		}
	}
	return ColliderPart{}, false
}

// Crouched 是否处于蹲伏或滑铲
func (a *Avatar) Crouched() bool {
	return a.State == protocol.Crouching || a.State == protocol.Sliding
}

// Snapshot 复制给客户端的状态（读取复制变换而非权威变换）
func (a *Avatar) Snapshot() protocol.AvatarState {
	return protocol.AvatarState{
		ConnectionID: a.Owner,
		Transform:    a.Replicated,
		Tint:         a.Tint,
		State:        a.State,
		Pitch:        a.Pitch,
	}
}

// Spawned 新头像的公开属性
func (a *Avatar) Spawned() protocol.AvatarSpawned {
	return protocol.AvatarSpawned{
		ConnectionID: a.Owner,
		DisplayName:  a.Name,
		Transform:    a.Replicated,
		Tint:         a.Tint,
	}
}

func defaultParts() []ColliderPart {
	r := avatarHeight * 0.25
	return []ColliderPart{
		{Role: UpperPart, Offset: mgl32.Vec3{0, avatarHeight * 0.25, 0}, Radius: r},
		{Role: LowerPart, Offset: mgl32.Vec3{0, -avatarHeight * 0.25, 0}, Radius: r},
	}
}
