package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"imsim/protocol"
)

// SessionState 客户端会话状态
type SessionState int

const (
	AwaitingUserInput SessionState = iota
	Connecting
	SendingHandshake
	AwaitingHandshakeResponse
	InGame
)

func (s SessionState) String() string {
	switch s {
	case AwaitingUserInput:
		return "awaiting_user_input"
	case Connecting:
		return "connecting"
	case SendingHandshake:
		return "sending_handshake"
	case AwaitingHandshakeResponse:
		return "awaiting_handshake_response"
	case InGame:
		return "in_game"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition 在当前状态下不允许该操作
var ErrInvalidTransition = errors.New("invalid session transition")

// ConnectForm 用户在连接菜单中填写的内容
type ConnectForm struct {
	Address     string
	Password    string // 为空表示不携带密码
	DisplayName string
}

// Session 会话状态机：只向前推进，除了两处由错误驱动的回退
// （连接失败、握手被拒）以及连接中途断开。不会自动重试。
type Session struct {
	log    *zap.SugaredLogger
	dialer Dialer

	state    SessionState
	form     ConnectForm
	lastErr  string
	conn     Transport
	clientID protocol.ConnID
}

func NewSession(dialer Dialer, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{dialer: dialer, log: log}
}

func (s *Session) State() SessionState { return s.state }

// LastError 最近一次回到菜单的原因，供界面展示
func (s *Session) LastError() string { return s.lastErr }

// ClientID 握手通过后服务端分配的连接号
func (s *Session) ClientID() (protocol.ConnID, bool) {
	return s.clientID, s.state == InGame
}

// Conn 当前连接（未连接时为 nil）
func (s *Session) Conn() Transport { return s.conn }

// Submit 用户提交连接表单
func (s *Session) Submit(form ConnectForm) error {
	if s.state != AwaitingUserInput {
		return fmt.Errorf("%w: submit while %s", ErrInvalidTransition, s.state)
	}
	s.form = form
	s.lastErr = ""
	s.state = Connecting
	return nil
}

// Step 推进一次状态机（每个客户端 Tick 调用一次）
func (s *Session) Step(ctx context.Context) {
	switch s.state {
	case Connecting:
		s.connect(ctx)
	case SendingHandshake:
		s.sendHandshake()
	}
}

func (s *Session) connect(ctx context.Context) {
	if _, _, err := net.SplitHostPort(s.form.Address); err != nil {
		s.fail(fmt.Sprintf("Error parsing the given server address: %v", err))
		return
	}
	conn, err := s.dialer.Dial(ctx, s.form.Address)
	if err != nil {
		s.fail(fmt.Sprintf("Could not connect to server: %v", err))
		return
	}
	s.conn = conn
	s.state = SendingHandshake
	s.log.Infof("connected to %s", s.form.Address)
}

func (s *Session) sendHandshake() {
	req := protocol.JoinRequest{DisplayName: s.form.DisplayName}
	if s.form.Password != "" {
		pw := s.form.Password
		req.RoomPassword = &pw
	}
	if err := s.conn.Send(protocol.KindJoinRequest, req); err != nil {
		s.fail(fmt.Sprintf("Could not send handshake: %v", err))
		return
	}
	s.state = AwaitingHandshakeResponse
}

// HandleJoinResult 处理握手响应；其他状态下收到的响应被忽略
func (s *Session) HandleJoinResult(res protocol.JoinResult) {
	if s.state != AwaitingHandshakeResponse {
		s.log.Warnf("ignoring join result while %s", s.state)
		return
	}
	switch {
	case res.Accepted != nil:
		s.clientID = res.Accepted.ConnectionID
		s.state = InGame
		s.log.Infof("joined as connection %d", s.clientID)
	case res.Rejected != nil:
		s.fail(fmt.Sprintf("The server rejected your connection for reason: %s", res.Rejected.Reason))
	default:
		s.fail("The server sent an empty handshake result.")
	}
}

// HandleTransportLoss 连接断开：回到菜单并展示原因
func (s *Session) HandleTransportLoss(err error) {
	if s.state == AwaitingUserInput || s.state == Connecting {
		return
	}
	msg := "Lost connection to server."
	if err != nil {
		msg = fmt.Sprintf("Lost connection to server: %v", err)
	}
	s.fail(msg)
}

// fail 关闭连接并回到 AwaitingUserInput
func (s *Session) fail(msg string) {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.clientID = 0
	s.lastErr = msg
	s.state = AwaitingUserInput
	s.log.Warn(msg)
}

// Disconnect 用户主动离开
func (s *Session) Disconnect() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.clientID = 0
	s.state = AwaitingUserInput
}
