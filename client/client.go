package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"imsim/protocol"
)

// Client 客户端运行时：会话状态机 + 世界镜像 + 输入累积。
// 所有方法都应在同一个协程（客户端 Tick）中调用。
type Client struct {
	log     *zap.SugaredLogger
	Session *Session
	Mirror  *Mirror
	Input   *InputAccumulator
}

func New(dialer Dialer, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		log:     log,
		Session: NewSession(dialer, log),
		Mirror:  NewMirror(),
		Input:   NewInputAccumulator(),
	}
}

// Connect 提交连接表单，下一次 Tick 开始连接
func (c *Client) Connect(form ConnectForm) error {
	return c.Session.Submit(form)
}

// Tick 单个客户端 Tick：推进会话 → 收包 → 镜像 → 发送输入
func (c *Client) Tick(ctx context.Context) {
	c.Session.Step(ctx)
	c.receive()
	if c.Session.State() != InGame {
		return
	}
	c.Mirror.MirrorTransforms()
	if err := c.Session.Conn().Send(protocol.KindInputSample, c.Input.Flush()); err != nil {
		c.log.Debugf("send input: %v", err)
	}
}

// SendCommand 发送有序的头像命令（仅在游戏中）
func (c *Client) SendCommand(cmd protocol.AvatarCommand) error {
	if c.Session.State() != InGame {
		return fmt.Errorf("%w: command while %s", ErrInvalidTransition, c.Session.State())
	}
	return c.Session.Conn().Send(protocol.KindAvatarCommand, cmd)
}

// ChangeTint 修改自己头像的颜色
func (c *Client) ChangeTint(r, g, b uint8) error {
	return c.SendCommand(protocol.AvatarCommand{ChangeTint: &protocol.ChangeTint{R: r, G: g, B: b}})
}

// Disconnect 主动断开并清空镜像
func (c *Client) Disconnect() {
	c.Session.Disconnect()
	c.Mirror.Reset()
	c.Input.Reset()
}

// receive 取出已到达的全部消息；连接断开时回到菜单
func (c *Client) receive() {
	conn := c.Session.Conn()
	if conn == nil {
		return
	}
	for {
		select {
		case env := <-conn.Incoming():
			c.dispatch(env)
			if c.Session.Conn() != conn {
				return
			}
		case <-conn.Done():
			// 断开前已入队的消息仍然有效
			for n := len(conn.Incoming()); n > 0; n-- {
				c.dispatch(<-conn.Incoming())
			}
			if c.Session.Conn() == conn {
				c.Session.HandleTransportLoss(conn.Err())
				c.Mirror.Reset()
				c.Input.Reset()
			}
			return
		default:
			return
		}
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindJoinResult:
		var res protocol.JoinResult
		if err := env.Unmarshal(&res); err != nil {
			c.log.Warnf("bad join result: %v", err)
			return
		}
		c.Session.HandleJoinResult(res)
		if id, ok := c.Session.ClientID(); ok {
			c.Mirror.SetSelf(id)
		}
	case protocol.KindAvatarSpawned:
		var s protocol.AvatarSpawned
		if err := env.Unmarshal(&s); err != nil {
			c.log.Warnf("bad spawn: %v", err)
			return
		}
		c.Mirror.ApplySpawn(s)
	case protocol.KindAvatarDespawned:
		var d protocol.AvatarDespawned
		if err := env.Unmarshal(&d); err != nil {
			c.log.Warnf("bad despawn: %v", err)
			return
		}
		c.Mirror.ApplyDespawn(d)
	case protocol.KindWorldState:
		var ws protocol.WorldState
		if err := env.Unmarshal(&ws); err != nil {
			c.log.Debugf("bad world state: %v", err)
			return
		}
		c.Mirror.ApplyState(ws)
	default:
		c.log.Debugf("ignoring %s from server", env.Kind)
	}
}
