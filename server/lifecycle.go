package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"imsim/protocol"
)

// RunState 服务端运行状态
type RunState int32

const (
	NotRunning RunState = iota
	Running
	Stopped
	Errored // 只能由绑定/传输初始化失败进入；之后仍可再次 Start
)

func (s RunState) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// StartCommand 启动命令：绑定地址与可选的房间密码
type StartCommand struct {
	BindAddr     string
	RoomPassword *string
}

// Server 管理房间与传输层的生命周期。
// 进入 Running 时重建连接表并绑定监听；Stop 断开全部连接。
type Server struct {
	cfg     Config
	metrics *RoomMetrics
	ids     idGen // 跨重启保持单调

	mu        sync.Mutex
	state     RunState
	lastErr   error
	room      *Room
	listener  net.Listener
	httpSrv   *http.Server
	cancel    context.CancelFunc
	tickDone  <-chan struct{}
	serveDone chan struct{}
	conns     map[protocol.ConnID]*ClientConn

	running atomic.Bool
	healthy atomic.Bool
}

// NewServer 创建处于 NotRunning 状态的服务端
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		metrics: &RoomMetrics{},
		conns:   make(map[protocol.ConnID]*ClientConn),
	}
}

// State 当前运行状态
func (s *Server) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError 最近一次启动失败的原因
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Metrics 运行指标
func (s *Server) Metrics() *RoomMetrics { return s.metrics }

// Room 当前房间（未运行过时为 nil）
func (s *Server) Room() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Addr 实际绑定的地址（端口为 0 时由系统分配）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start 进入 Running：重建连接表、绑定监听、启动 Tick。
// 绑定失败进入 Errored 并返回错误，不自动重试；失败只影响这一次启动。
func (s *Server) Start(cmd StartCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return ErrAlreadyRunning
	}

	policy := OpenRoom()
	if cmd.RoomPassword != nil {
		p, err := PasswordRoom(*cmd.RoomPassword, s.cfg.BcryptCost)
		if err != nil {
			return err
		}
		policy = p
	}

	obstacles, err := s.cfg.Boxes()
	if err != nil {
		return err
	}
	ramps, err := s.cfg.RampList()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cmd.BindAddr)
	if err != nil {
		s.state = Errored
		s.lastErr = fmt.Errorf("bind %s: %w", cmd.BindAddr, err)
		Log.Errorf("Error starting server: %v", s.lastErr)
		return s.lastErr
	}

	room := NewRoom("main", RoomOptions{
		Policy:     policy,
		Tuning:     s.cfg.Movement,
		Spawn:      s.cfg.Spawn,
		Interval:   s.cfg.TickInterval(),
		InputRate:  s.cfg.InputRate,
		InputBurst: s.cfg.InputBurst,
		Obstacles:  obstacles,
		Ramps:      ramps,
		Metrics:    s.metrics,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	srv := &http.Server{Handler: mux}
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.healthy.Store(false)
			Log.Errorf("transport failed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.room = room
	s.listener = ln
	s.httpSrv = srv
	s.serveDone = serveDone
	s.cancel = cancel
	s.lastErr = nil
	s.healthy.Store(true)
	s.running.Store(true)
	s.state = Running
	s.tickDone = room.StartTicker(ctx, s.gate)

	Log.Infof("Server listening on %s (password required: %v)", ln.Addr(), policy.RequiresPassword())
	return nil
}

// Stop 进入 Stopped：停止 Tick，关闭监听并断开全部连接
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running.Store(false)
	s.cancel()
	tickDone := s.tickDone
	srv := s.httpSrv
	serveDone := s.serveDone
	room := s.room
	conns := make([]*ClientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.state = Stopped
	s.mu.Unlock()

	<-tickDone
	room.Close()
	_ = srv.Close()
	<-serveDone
	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopped"),
			time.Now().Add(writeWait))
		c.Close()
	}
	Log.Infof("Server stopped; severed %d connections", len(conns))
	return nil
}

// gate 只有 Running 且传输层健康时才处理消息与推进 Tick
func (s *Server) gate() bool {
	return s.running.Load() && s.healthy.Load()
}

func (s *Server) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// admit 分配连接号并登记；人数已满或服务已停止时返回 false
func (s *Server) admit(ws *websocket.Conn) (*ClientConn, *Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || len(s.conns) >= s.cfg.MaxClients {
		return nil, nil, false
	}
	c := NewClientConn(s.ids.Next(), ws)
	s.conns[c.id] = c
	return c, s.room, true
}

func (s *Server) release(id protocol.ConnID) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}
