package server

import (
	"go.uber.org/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount          atomic.Int64 // 统计的 Tick 次数
	TotalTickNs        atomic.Int64 // Tick 累计耗时（纳秒）
	TickPanics         atomic.Int64 // Tick 内被恢复的 panic 次数
	Connects           atomic.Int64 // 传输层接入数
	Disconnects        atomic.Int64 // 传输层断开数
	HandshakesAccepted atomic.Int64 // 通过的握手
	HandshakesRejected atomic.Int64 // 被拒绝的握手
	InputsAccepted     atomic.Int64 // 被应用的输入样本
	RateLimited        atomic.Int64 // 因限流被丢弃的输入
	CommandsLimited    atomic.Int64 // 因限流被丢弃的命令
	ChanFullDiscarded  atomic.Int64 // 因入站队列满被丢弃的输入
	Orphaned           atomic.Int64 // 找不到所属连接的输入/命令
	CommandsApplied    atomic.Int64 // 被应用的头像命令
	IntegrityErrors    atomic.Int64 // 头像缺失等完整性错误
	MalformedFrames    atomic.Int64 // 无法解析的入站帧
}

func (m *RoomMetrics) AddTick(ns int64) {
	m.TickCount.Inc()
	m.TotalTickNs.Add(ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := m.TickCount.Load()
	total := m.TotalTickNs.Load()
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"tick_panics":         m.TickPanics.Load(),
		"connects":            m.Connects.Load(),
		"disconnects":         m.Disconnects.Load(),
		"handshakes_accepted": m.HandshakesAccepted.Load(),
		"handshakes_rejected": m.HandshakesRejected.Load(),
		"inputs_accepted":     m.InputsAccepted.Load(),
		"rate_limited":        m.RateLimited.Load(),
		"commands_limited":    m.CommandsLimited.Load(),
		"chan_full_discarded": m.ChanFullDiscarded.Load(),
		"orphaned":            m.Orphaned.Load(),
		"commands_applied":    m.CommandsApplied.Load(),
		"integrity_errors":    m.IntegrityErrors.Load(),
		"malformed_frames":    m.MalformedFrames.Load(),
		"avg_tick_ms":         avgMs,
	}
}
