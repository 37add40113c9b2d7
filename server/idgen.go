package server

import (
	"go.uber.org/atomic"

	"imsim/protocol"
)

// idGen 进程内单调递增的连接号；同一毫秒内接入的两个连接也不会冲突
type idGen struct {
	next atomic.Uint64
}

func (g *idGen) Next() protocol.ConnID {
	return protocol.ConnID(g.next.Inc())
}
