package client

import (
	"github.com/elliotchance/orderedmap/v2"

	"imsim/protocol"
)

// RemoteAvatar 客户端看到的一个头像。
// Replicated 只由网络消息写入，Render 在每个 Tick 从 Replicated 镜像。
type RemoteAvatar struct {
	ID         protocol.ConnID
	Name       string
	Tint       protocol.Tint
	State      protocol.MoveState
	Pitch      float32
	Replicated protocol.Transform
	Render     protocol.Transform
}

// Mirror 服务端世界在客户端的只读镜像（按出现顺序保存）
type Mirror struct {
	avatars  *orderedmap.OrderedMap[protocol.ConnID, *RemoteAvatar]
	lastTick uint64
	self     protocol.ConnID
}

func NewMirror() *Mirror {
	return &Mirror{avatars: orderedmap.NewOrderedMap[protocol.ConnID, *RemoteAvatar]()}
}

// SetSelf 记录本机连接号，用于区分自己的头像
func (m *Mirror) SetSelf(id protocol.ConnID) { m.self = id }

func (m *Mirror) ApplySpawn(s protocol.AvatarSpawned) {
	if a, ok := m.avatars.Get(s.ConnectionID); ok {
		a.Name, a.Tint, a.Replicated = s.DisplayName, s.Tint, s.Transform
		return
	}
	m.avatars.Set(s.ConnectionID, &RemoteAvatar{
		ID:         s.ConnectionID,
		Name:       s.DisplayName,
		Tint:       s.Tint,
		Replicated: s.Transform,
		Render:     s.Transform,
	})
}

func (m *Mirror) ApplyDespawn(d protocol.AvatarDespawned) {
	m.avatars.Delete(d.ConnectionID)
}

// ApplyState 应用一帧复制快照；过期帧与未知头像被忽略。
// 返回 false 表示整帧被丢弃。
func (m *Mirror) ApplyState(ws protocol.WorldState) bool {
	if ws.Tick <= m.lastTick {
		return false
	}
	m.lastTick = ws.Tick
	for _, s := range ws.Avatars {
		a, ok := m.avatars.Get(s.ConnectionID)
		if !ok {
			// 生成消息走有序通道，可能晚于快照到达
			continue
		}
		a.Replicated = s.Transform
		a.Tint = s.Tint
		a.State = s.State
		a.Pitch = s.Pitch
	}
	return true
}

// MirrorTransforms 收包之后、其它逻辑之前执行
func (m *Mirror) MirrorTransforms() {
	for el := m.avatars.Front(); el != nil; el = el.Next() {
		el.Value.Render = el.Value.Replicated
	}
}

func (m *Mirror) Get(id protocol.ConnID) (*RemoteAvatar, bool) {
	return m.avatars.Get(id)
}

// Self 本机头像（握手通过且收到生成消息后才存在）
func (m *Mirror) Self() (*RemoteAvatar, bool) {
	if m.self == 0 {
		return nil, false
	}
	return m.avatars.Get(m.self)
}

func (m *Mirror) Len() int { return m.avatars.Len() }

// Each 按出现顺序遍历
func (m *Mirror) Each(fn func(*RemoteAvatar)) {
	for el := m.avatars.Front(); el != nil; el = el.Next() {
		fn(el.Value)
	}
}

// LastTick 最近一次应用的快照序号
func (m *Mirror) LastTick() uint64 { return m.lastTick }

// Reset 断线后清空
func (m *Mirror) Reset() {
	m.avatars = orderedmap.NewOrderedMap[protocol.ConnID, *RemoteAvatar]()
	m.lastTick = 0
	m.self = 0
}
