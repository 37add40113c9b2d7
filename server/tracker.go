package server

import (
	"sort"

	"imsim/protocol"
)

// ConnectionTracker 连接号 ↔ 头像 ↔ 显示名 的双向索引。
// 三个索引始终一致：不存在没有反向条目的正向条目。
// 只由房间的 Tick 协程访问，不加锁。
type ConnectionTracker struct {
	avatars map[protocol.ConnID]AvatarHandle
	names   map[protocol.ConnID]string
	ids     map[string]protocol.ConnID
}

func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{
		avatars: make(map[protocol.ConnID]AvatarHandle),
		names:   make(map[protocol.ConnID]string),
		ids:     make(map[string]protocol.ConnID),
	}
}

// Track 登记新的映射。调用方保证先握手通过再登记；重复登记同一连接号会覆盖旧条目。
func (t *ConnectionTracker) Track(id protocol.ConnID, avatar AvatarHandle, name string) {
	if old, ok := t.names[id]; ok && old != name {
		delete(t.ids, old)
	}
	t.avatars[id] = avatar
	t.names[id] = name
	t.ids[name] = id
}

// Drop 原子地移除三个索引条目，返回被移除的头像与显示名；未登记时 ok 为 false
func (t *ConnectionTracker) Drop(id protocol.ConnID) (avatar AvatarHandle, name string, ok bool) {
	avatar, ok = t.avatars[id]
	if !ok {
		return 0, "", false
	}
	name = t.names[id]
	delete(t.avatars, id)
	delete(t.names, id)
	if owner, exists := t.ids[name]; exists && owner == id {
		delete(t.ids, name)
	}
	return avatar, name, true
}

// AvatarOf 按连接号查找头像
func (t *ConnectionTracker) AvatarOf(id protocol.ConnID) (AvatarHandle, bool) {
	a, ok := t.avatars[id]
	return a, ok
}

// IDOf 按显示名查找连接号
func (t *ConnectionTracker) IDOf(name string) (protocol.ConnID, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// NameOf 按连接号查找显示名
func (t *ConnectionTracker) NameOf(id protocol.ConnID) (string, bool) {
	n, ok := t.names[id]
	return n, ok
}

// Len 已登记的连接数
func (t *ConnectionTracker) Len() int {
	return len(t.avatars)
}

// IDs 已登记的连接号（升序）
func (t *ConnectionTracker) IDs() []protocol.ConnID {
	out := make([]protocol.ConnID, 0, len(t.avatars))
	for id := range t.avatars {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
