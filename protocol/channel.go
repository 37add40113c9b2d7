package protocol

// Channel 声明消息的投递类别
type Channel uint8

const (
	// Ordered 可靠有序：握手与命令，必须恰好一次按序到达
	Ordered Channel = iota + 1
	// Unreliable 不可靠：每 Tick 自包含的高频数据，允许丢失或过期
	Unreliable
)

func (c Channel) String() string {
	switch c {
	case Ordered:
		return "ordered"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Kind 消息种类
type Kind string

const (
	KindJoinRequest     Kind = "join_request"
	KindJoinResult      Kind = "join_result"
	KindAvatarSpawned   Kind = "avatar_spawned"
	KindAvatarDespawned Kind = "avatar_despawned"
	KindInputSample     Kind = "input_sample"
	KindAvatarCommand   Kind = "avatar_command"
	KindWorldState      Kind = "world_state"
)

// 每种消息固定的投递类别（发送端与接收端共享同一张表）
var kindChannels = map[Kind]Channel{
	KindJoinRequest:     Ordered,
	KindJoinResult:      Ordered,
	KindAvatarSpawned:   Ordered,
	KindAvatarDespawned: Ordered,
	KindInputSample:     Unreliable,
	KindAvatarCommand:   Ordered,
	KindWorldState:      Unreliable,
}

// ChannelOf 返回某种消息声明的投递类别
func ChannelOf(k Kind) (Channel, bool) {
	ch, ok := kindChannels[k]
	return ch, ok
}

// ProtocolVersion 0.1.x 版本协议标识，不匹配的对端在任何应用消息之前被拒绝
const ProtocolVersion uint64 = 1_542_994_232_742

// ProtocolParam 客户端建立连接时携带协议版本的查询参数名
const ProtocolParam = "protocol"
