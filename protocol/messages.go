package protocol

// ConnID 连接标识，在传输层接受连接时分配，进程生命周期内唯一
type ConnID uint64

// JoinRequest C→S 握手请求
type JoinRequest struct {
	DisplayName  string  `msgpack:"display_name"`
	RoomPassword *string `msgpack:"room_password,omitempty"`
}

// Accepted 握手通过
type Accepted struct {
	ConnectionID ConnID `msgpack:"connection_id"`
}

// Rejected 握手被拒绝，Reason 可直接展示给用户
type Rejected struct {
	Reason string `msgpack:"reason"`
}

// JoinResult S→C 定向响应，Accepted 与 Rejected 恰好一个非空
type JoinResult struct {
	Accepted *Accepted `msgpack:"accepted,omitempty"`
	Rejected *Rejected `msgpack:"rejected,omitempty"`
}

func Accept(id ConnID) JoinResult {
	return JoinResult{Accepted: &Accepted{ConnectionID: id}}
}

func Reject(reason string) JoinResult {
	return JoinResult{Rejected: &Rejected{Reason: reason}}
}

// AvatarSpawned S→C 新头像的公开属性
type AvatarSpawned struct {
	ConnectionID ConnID    `msgpack:"connection_id"`
	DisplayName  string    `msgpack:"display_name"`
	Transform    Transform `msgpack:"transform"`
	Tint         Tint      `msgpack:"tint"`
}

// AvatarDespawned S→C 连接断开后移除对应头像
type AvatarDespawned struct {
	ConnectionID ConnID `msgpack:"connection_id"`
}

// InputSample C→S 每 Tick 的输入快照
type InputSample struct {
	Strafe     float32      `msgpack:"strafe"`
	Walk       float32      `msgpack:"walk"`
	PitchDelta float32      `msgpack:"pitch_delta"`
	YawDelta   float32      `msgpack:"yaw_delta"`
	Crouch     DigitalInput `msgpack:"crouch"`
	Jump       DigitalInput `msgpack:"jump"`
}

// ChangeTint 修改头像颜色
type ChangeTint struct {
	R uint8 `msgpack:"r"`
	G uint8 `msgpack:"g"`
	B uint8 `msgpack:"b"`
}

// AvatarCommand C→S 有序命令；目前只有 ChangeTint 一种
type AvatarCommand struct {
	ChangeTint *ChangeTint `msgpack:"change_tint,omitempty"`
}

// MoveState 头像的运动状态（在复制快照中给客户端展示用）
type MoveState uint8

const (
	Standing MoveState = iota
	Crouching
	Airborne
	Sliding
)

func (s MoveState) String() string {
	switch s {
	case Standing:
		return "standing"
	case Crouching:
		return "crouching"
	case Airborne:
		return "airborne"
	case Sliding:
		return "sliding"
	default:
		return "unknown"
	}
}

// AvatarState 单个头像的复制状态
type AvatarState struct {
	ConnectionID ConnID    `msgpack:"connection_id"`
	Transform    Transform `msgpack:"transform"`
	Tint         Tint      `msgpack:"tint"`
	State        MoveState `msgpack:"state"`
	Pitch        float32   `msgpack:"pitch"`
}

// WorldState S→C 每 Tick 广播的复制快照
type WorldState struct {
	Tick    uint64        `msgpack:"tick"`
	Avatars []AvatarState `msgpack:"avatars"`
}
