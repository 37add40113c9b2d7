package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"imsim/protocol"
)

// Peer 房间看到的网络连接（发送端）
type Peer interface {
	ID() protocol.ConnID
	// Send 按投递类别发送；有序队列溢出时返回 false（连接随之被关闭）
	Send(ch protocol.Channel, frame []byte) bool
	Close()
}

// member 已接入房间的连接（握手前后都在）
type member struct {
	peer    Peer
	limiter *rate.Limiter
}

// RoomOptions 创建房间的参数
type RoomOptions struct {
	Policy     RoomPolicy
	Tuning     MovementTuning
	Spawn      SpawnArea
	Interval   time.Duration
	InputRate  float64
	InputBurst int
	Obstacles  []Box
	Ramps      []Ramp
	Rand       *rand.Rand
	Metrics    *RoomMetrics
}

// Room 房间世界：权威状态维护在内存，单线程 Tick 推进。
// tracker、world、members 只由 Tick 协程访问。
type Room struct {
	ID string

	policy  RoomPolicy
	tracker *ConnectionTracker
	world   *World
	members map[protocol.ConnID]*member

	orderedChan chan orderedEvent
	inputChan   chan Input
	stop        chan struct{}
	stopOnce    sync.Once

	rng      *rand.Rand
	spawn    SpawnArea
	interval time.Duration
	dt       float32
	tickSeq  uint64

	// 热更新配置：由管理接口写入，在下一个 Tick 开始时生效
	cfgMu      sync.RWMutex
	tuning     MovementTuning
	inputRate  float64
	inputBurst int
	cfgDirty   bool

	metrics *RoomMetrics
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, opts RoomOptions) *Room {
	if opts.Interval <= 0 {
		opts.Interval = time.Second / 30
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Metrics == nil {
		opts.Metrics = &RoomMetrics{}
	}
	if opts.InputRate <= 0 {
		opts.InputRate = 90
	}
	if opts.InputBurst <= 0 {
		opts.InputBurst = 8
	}
	world := NewWorld(opts.Obstacles...)
	world.ramps = opts.Ramps
	return &Room{
		ID:          id,
		policy:      opts.Policy,
		tracker:     NewConnectionTracker(),
		world:       world,
		members:     make(map[protocol.ConnID]*member),
		orderedChan: make(chan orderedEvent, 1024), // 有序事件不可丢弃，队列留足余量
		inputChan:   make(chan Input, 512),         // 足够缓冲，避免网络读阻塞影响 Tick
		stop:        make(chan struct{}),
		rng:         opts.Rand,
		spawn:       opts.Spawn,
		interval:    opts.Interval,
		dt:          float32(opts.Interval.Seconds()),
		tuning:      opts.Tuning,
		inputRate:   opts.InputRate,
		inputBurst:  opts.InputBurst,
		metrics:     opts.Metrics,
	}
}

// Close 释放阻塞在入队上的读协程；之后的事件全部丢弃
func (r *Room) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Room) enqueue(ev orderedEvent) {
	// 有序事件阻塞写入，保证恰好一次；房间关闭后直接放弃
	select {
	case r.orderedChan <- ev:
	case <-r.stop:
	}
}

// OnConnect 传输层接入（握手前，尚未登记）
func (r *Room) OnConnect(p Peer) {
	r.enqueue(orderedEvent{kind: evConnect, conn: p.ID(), peer: p})
}

// OnJoin 入站握手请求
func (r *Room) OnJoin(id protocol.ConnID, req protocol.JoinRequest) {
	r.enqueue(orderedEvent{kind: evJoin, conn: id, join: req})
}

// OnCommand 入站头像命令
func (r *Room) OnCommand(id protocol.ConnID, cmd protocol.AvatarCommand) {
	r.enqueue(orderedEvent{kind: evCommand, conn: id, cmd: cmd})
}

// RequestLeave 请求在 Tick 线程中移除连接，避免并发改动房间状态
func (r *Room) RequestLeave(id protocol.ConnID, reason string) {
	r.enqueue(orderedEvent{kind: evLeave, conn: id, reason: reason})
}

// OnInput 入站输入（不立即改变状态），仅记录意图，等下一次 Tick 处理
func (r *Room) OnInput(in Input) {
	// 不阻塞：输入拥塞时丢弃，保证 Tick 准时
	select {
	case r.inputChan <- in:
	default:
		r.metrics.ChanFullDiscarded.Inc()
	}
}

// SetTuning 更新运动参数，下一个 Tick 对所有头像生效
func (r *Room) SetTuning(t MovementTuning) {
	r.cfgMu.Lock()
	r.tuning = t
	r.cfgDirty = true
	r.cfgMu.Unlock()
}

// SetInputLimit 更新每个连接的输入限流
func (r *Room) SetInputLimit(perSecond float64, burst int) {
	r.cfgMu.Lock()
	r.inputRate = perSecond
	r.inputBurst = burst
	r.cfgDirty = true
	r.cfgMu.Unlock()
}

// Settings 当前配置副本
func (r *Room) Settings() (MovementTuning, float64, int) {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.tuning, r.inputRate, r.inputBurst
}

// Tick 单个 Tick 的固定流水线：有序事件 → 输入 → 物理 → 镜像 → 广播
func (r *Room) Tick() {
	r.BeginTick()
	r.ProcessOrdered()
	r.ProcessInputs()
	r.UpdateWorld()
	mirrorTransforms(r.world)
	r.BroadcastState()
}

// BeginTick 同一 Tick 时间线：推进序号，应用热更新配置
func (r *Room) BeginTick() {
	r.tickSeq++
	r.cfgMu.Lock()
	dirty := r.cfgDirty
	r.cfgDirty = false
	tuning, perSec, burst := r.tuning, r.inputRate, r.inputBurst
	r.cfgMu.Unlock()
	if !dirty {
		return
	}
	r.world.Each(func(a *Avatar) { a.Tuning = tuning })
	for _, m := range r.members {
		m.limiter.SetLimit(rate.Limit(perSec))
		m.limiter.SetBurst(burst)
	}
}

// ProcessOrdered 按到达顺序处理本 Tick 开始时已排队的有序事件
func (r *Room) ProcessOrdered() {
	for n := len(r.orderedChan); n > 0; n-- {
		ev := <-r.orderedChan
		switch ev.kind {
		case evConnect:
			r.handleConnect(ev.peer)
		case evJoin:
			r.handleJoin(ev.conn, ev.join)
		case evCommand:
			r.handleCommand(ev.conn, ev.cmd)
		case evLeave:
			r.handleLeave(ev.conn, ev.reason)
		}
	}
}

// ProcessInputs 处理本 Tick 开始时已排队的输入样本
func (r *Room) ProcessInputs() {
	for n := len(r.inputChan); n > 0; n-- {
		r.applyInput(<-r.inputChan)
	}
}

// UpdateWorld 水平阻尼 + 物理积分
func (r *Room) UpdateWorld() {
	dampAll(r.world)
	stepPhysics(r.world, r.dt)
}

// BroadcastState 将复制状态通过不可靠通道广播给所有已登记的连接
func (r *Room) BroadcastState() {
	if r.tracker.Len() == 0 {
		return
	}
	snapshot := protocol.WorldState{Tick: r.tickSeq, Avatars: make([]protocol.AvatarState, 0, r.world.Len())}
	r.world.Each(func(a *Avatar) {
		snapshot.Avatars = append(snapshot.Avatars, a.Snapshot())
	})
	b, err := protocol.Encode(protocol.KindWorldState, snapshot)
	if err != nil {
		Log.Errorf("encode world state: %v", err)
		return
	}
	for _, id := range r.tracker.IDs() {
		if m, ok := r.members[id]; ok {
			m.peer.Send(protocol.Unreliable, b)
		}
	}
}

func (r *Room) handleConnect(p Peer) {
	r.cfgMu.RLock()
	limiter := rate.NewLimiter(rate.Limit(r.inputRate), r.inputBurst)
	r.cfgMu.RUnlock()
	r.members[p.ID()] = &member{peer: p, limiter: limiter}
	r.metrics.Connects.Inc()
	Log.Infof("Client %d has connected to room %s", p.ID(), r.ID)
}

func (r *Room) handleJoin(id protocol.ConnID, req protocol.JoinRequest) {
	if _, ok := r.members[id]; !ok {
		// 连接已经断开，响应不会被观察到
		Log.Debugf("Dropping handshake from departed connection %d", id)
		return
	}
	if _, joined := r.tracker.AvatarOf(id); joined {
		Log.Warnf("Connection %d sent a second handshake; ignoring", id)
		return
	}

	decision := Authenticate(r.policy, r.tracker, req)
	if !decision.Accept {
		r.metrics.HandshakesRejected.Inc()
		Log.Infof("Rejected handshake from %d (%q): %s", id, req.DisplayName, decision.Reason)
		r.send(id, protocol.KindJoinResult, protocol.Reject(decision.Reason))
		return
	}

	r.cfgMu.RLock()
	tuning := r.tuning
	r.cfgMu.RUnlock()
	avatar := r.world.Spawn(SpawnParams{
		Owner:       id,
		Name:        req.DisplayName,
		Translation: r.spawnPoint(),
		Rotation:    mgl32.QuatIdent(),
		Tint:        r.randomTint(),
		Tuning:      tuning,
	})
	r.tracker.Track(id, avatar.Handle, req.DisplayName)
	r.metrics.HandshakesAccepted.Inc()
	Log.Infof("%s joined as connection %d", req.DisplayName, id)

	r.send(id, protocol.KindJoinResult, protocol.Accept(id))
	// 新连接需要看到已有的全部头像（包括自己的）
	r.world.Each(func(a *Avatar) {
		r.send(id, protocol.KindAvatarSpawned, a.Spawned())
	})
	r.broadcast(protocol.KindAvatarSpawned, avatar.Spawned(), id)
}

func (r *Room) handleCommand(id protocol.ConnID, cmd protocol.AvatarCommand) {
	a, ok := r.resolve(id, "command")
	if !ok {
		return
	}
	switch {
	case cmd.ChangeTint != nil:
		a.Tint = protocol.Tint{R: cmd.ChangeTint.R, G: cmd.ChangeTint.G, B: cmd.ChangeTint.B}
		r.metrics.CommandsApplied.Inc()
	default:
		Log.Warnf("Empty command from client %d", id)
	}
}

func (r *Room) handleLeave(id protocol.ConnID, reason string) {
	delete(r.members, id)
	r.metrics.Disconnects.Inc()

	handle, name, ok := r.tracker.Drop(id)
	if !ok {
		Log.Infof("Untracked connection %d disconnected for %s", id, reason)
		return
	}
	if _, ok := r.world.Despawn(handle); !ok {
		r.metrics.IntegrityErrors.Inc()
		Log.Errorf("Connection %d (%s) was tracked without an avatar", id, name)
	}
	Log.Infof("%s disconnected from the server for %s", name, reason)
	r.broadcast(protocol.KindAvatarDespawned, protocol.AvatarDespawned{ConnectionID: id}, id)
}

func (r *Room) applyInput(in Input) {
	a, ok := r.resolve(in.ConnID, "input")
	if !ok {
		return
	}
	if m, ok := r.members[in.ConnID]; ok && !m.limiter.Allow() {
		r.metrics.RateLimited.Inc()
		return
	}
	applyInput(a, sanitize(in.Sample), r.dt)
	r.metrics.InputsAccepted.Inc()
}

// resolve 通过连接表找到头像；找不到属于正常的断线竞争，记录后丢弃
func (r *Room) resolve(id protocol.ConnID, what string) (*Avatar, bool) {
	handle, ok := r.tracker.AvatarOf(id)
	if !ok {
		r.metrics.Orphaned.Inc()
		Log.Warnf("Received %s from client %d who is not in the connection tracker", what, id)
		return nil, false
	}
	a, ok := r.world.Get(handle)
	if !ok {
		r.metrics.IntegrityErrors.Inc()
		Log.Errorf("Client %d's avatar %d is missing from the world", id, handle)
		return nil, false
	}
	return a, true
}

func (r *Room) send(id protocol.ConnID, kind protocol.Kind, v any) {
	m, ok := r.members[id]
	if !ok {
		return
	}
	b, err := protocol.Encode(kind, v)
	if err != nil {
		Log.Errorf("encode %s: %v", kind, err)
		return
	}
	ch, _ := protocol.ChannelOf(kind)
	if !m.peer.Send(ch, b) {
		Log.Warnf("Outbound queue of client %d overflowed; closing", id)
	}
}

// broadcast 发送给除 except 以外所有已登记的连接
func (r *Room) broadcast(kind protocol.Kind, v any, except protocol.ConnID) {
	for _, id := range r.tracker.IDs() {
		if id != except {
			r.send(id, kind, v)
		}
	}
}

// spawnPoint 水平正方形内均匀随机，固定投放高度
func (r *Room) spawnPoint() mgl32.Vec3 {
	h := r.spawn.HalfExtent
	x := (r.rng.Float32()*2 - 1) * h
	z := (r.rng.Float32()*2 - 1) * h
	return mgl32.Vec3{x, r.spawn.DropHeight, z}
}

func (r *Room) randomTint() protocol.Tint {
	return protocol.Tint{
		R: uint8(r.rng.Intn(256)),
		G: uint8(r.rng.Intn(256)),
		B: uint8(r.rng.Intn(256)),
	}
}

// Tracker 暴露给测试与管理接口（仅在 Tick 协程外且房间停止时读取）
func (r *Room) Tracker() *ConnectionTracker { return r.tracker }

// World 同上
func (r *Room) World() *World { return r.world }
