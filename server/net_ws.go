package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"imsim/protocol"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 1 << 16

	// 每个连接的命令限流：命令走有序队列，不能丢进房间里无限排队
	commandRate  = 10
	commandBurst = 5
)

// ClientConn 负责发送（写）数据到客户端的轻量包装。
// 两条出站队列对应两种投递类别：有序队列满了说明对端跟不上，直接断开；
// 不可靠队列满了就丢弃，保证 Tick 不被阻塞。
type ClientConn struct {
	id         protocol.ConnID
	ws         *websocket.Conn
	ordered    chan []byte
	unreliable chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	commands   *rate.Limiter
}

func NewClientConn(id protocol.ConnID, ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		id:         id,
		ws:         ws,
		ordered:    make(chan []byte, 256),
		unreliable: make(chan []byte, 8),
		closed:     make(chan struct{}),
		commands:   rate.NewLimiter(commandRate, commandBurst),
	}
}

func (c *ClientConn) ID() protocol.ConnID { return c.id }

// Send 将消息压入对应投递类别的队列（非阻塞）
func (c *ClientConn) Send(ch protocol.Channel, b []byte) bool {
	select {
	case <-c.closed:
		// 连接已断开，响应不会被观察到，这不是错误
		return true
	default:
	}
	if ch == protocol.Ordered {
		select {
		case c.ordered <- b:
			return true
		default:
			c.Close()
			return false
		}
	}
	select {
	case c.unreliable <- b:
	default:
		// 为了实时性，丢弃本帧（下一帧的快照是自包含的）
	}
	return true
}

// Close 关闭底层连接，结束读写协程
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *ClientConn) write(msg []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, msg)
}

// writePump 独立协程，有序队列优先写出
func (c *ClientConn) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.ordered:
			if err := c.write(msg); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-c.closed:
			return
		case msg := <-c.ordered:
			if err := c.write(msg); err != nil {
				return
			}
		case msg := <-c.unreliable:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowCommand 超出限流的命令直接丢弃并计数
func (c *ClientConn) allowCommand(metrics *RoomMetrics) bool {
	if c.commands.Allow() {
		return true
	}
	metrics.CommandsLimited.Inc()
	return false
}

// readPump 读取客户端消息，按种类注入房间
func (c *ClientConn) readPump(room *Room, metrics *RoomMetrics, onExit func()) {
	reason := "connection closed"
	defer func() {
		c.Close()
		// 读泵退出时，通知房间在 Tick 线程中移除该连接
		room.RequestLeave(c.id, reason)
		if onExit != nil {
			onExit()
		}
	}()
	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(payload)
		if err != nil {
			metrics.MalformedFrames.Inc()
			Log.Debugf("client %d sent malformed frame: %v", c.id, err)
			continue
		}
		switch env.Kind {
		case protocol.KindJoinRequest:
			var req protocol.JoinRequest
			if err := env.Unmarshal(&req); err != nil {
				metrics.MalformedFrames.Inc()
				continue
			}
			room.OnJoin(c.id, req)
		case protocol.KindInputSample:
			var in protocol.InputSample
			if err := env.Unmarshal(&in); err != nil {
				metrics.MalformedFrames.Inc()
				continue
			}
			room.OnInput(Input{ConnID: c.id, Sample: in})
		case protocol.KindAvatarCommand:
			var cmd protocol.AvatarCommand
			if err := env.Unmarshal(&cmd); err != nil {
				metrics.MalformedFrames.Inc()
				continue
			}
			if !c.allowCommand(metrics) {
				continue
			}
			room.OnCommand(c.id, cmd)
		default:
			Log.Debugf("client %d sent server-only message %s", c.id, env.Kind)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// handleWS WebSocket 接入：/ws?protocol=<版本号>。
// 协议版本不符或人数已满时，在任何应用消息之前拒绝。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	want := strconv.FormatUint(protocol.ProtocolVersion, 10)
	if r.URL.Query().Get(protocol.ProtocolParam) != want {
		http.Error(w, "incompatible protocol version", http.StatusUpgradeRequired)
		return
	}
	if !s.gate() {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}
	if s.connCount() >= s.cfg.MaxClients {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	client, room, ok := s.admit(ws)
	if !ok {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	room.OnConnect(client)

	go client.writePump()
	go client.readPump(room, s.metrics, func() { s.release(client.id) })
}
