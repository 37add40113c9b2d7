package server

import "imsim/protocol"

// Input 客户端输入样本（意图），由服务端在 Tick 中解释并驱动世界状态
type Input struct {
	ConnID protocol.ConnID
	Sample protocol.InputSample
}

type eventKind uint8

const (
	evConnect eventKind = iota
	evJoin
	evCommand
	evLeave
)

// orderedEvent 有序队列中的事件：接入、握手、命令、断开按到达顺序处理
type orderedEvent struct {
	kind   eventKind
	conn   protocol.ConnID
	peer   Peer
	join   protocol.JoinRequest
	cmd    protocol.AvatarCommand
	reason string
}

// sanitize 丢弃非法的数字输入取值
func sanitize(s protocol.InputSample) protocol.InputSample {
	if !s.Crouch.Valid() {
		s.Crouch = protocol.NotPressed
	}
	if !s.Jump.Valid() {
		s.Jump = protocol.NotPressed
	}
	return s
}
