package server

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"imsim/protocol"
)

type fakePeer struct {
	id     protocol.ConnID
	frames []protocol.Envelope
	full   bool
	closed bool
}

func (p *fakePeer) ID() protocol.ConnID { return p.id }

func (p *fakePeer) Send(ch protocol.Channel, b []byte) bool {
	if p.full && ch == protocol.Ordered {
		p.closed = true
		return false
	}
	env, err := protocol.Decode(b)
	if err != nil {
		panic(err)
	}
	if env.Channel != ch {
		panic("frame sent on the wrong channel")
	}
	p.frames = append(p.frames, env)
	return true
}

func (p *fakePeer) Close() { p.closed = true }

func (p *fakePeer) count(kind protocol.Kind) int {
	n := 0
	for _, f := range p.frames {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// last 解码最后一条指定种类的消息
func (p *fakePeer) last(t *testing.T, kind protocol.Kind, v any) {
	t.Helper()
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].Kind == kind {
			if err := p.frames[i].Unmarshal(v); err != nil {
				t.Fatalf("unmarshal %s: %v", kind, err)
			}
			return
		}
	}
	t.Fatalf("peer %d received no %s", p.id, kind)
}

func newTestRoom(policy RoomPolicy) *Room {
	return NewRoom("test", RoomOptions{
		Policy:     policy,
		Tuning:     DefaultTuning(),
		Spawn:      SpawnArea{HalfExtent: 20, DropHeight: 30},
		Interval:   time.Second / 30,
		InputRate:  1000,
		InputBurst: 100,
		Rand:       rand.New(rand.NewSource(1)),
		Metrics:    &RoomMetrics{},
	})
}

func connect(r *Room, id protocol.ConnID) *fakePeer {
	p := &fakePeer{id: id}
	r.OnConnect(p)
	return p
}

func joinAs(t *testing.T, r *Room, id protocol.ConnID, name string) *fakePeer {
	t.Helper()
	p := connect(r, id)
	r.OnJoin(id, protocol.JoinRequest{DisplayName: name})
	r.ProcessOrdered()
	var res protocol.JoinResult
	p.last(t, protocol.KindJoinResult, &res)
	if res.Accepted == nil {
		t.Fatalf("%s rejected: %+v", name, res.Rejected)
	}
	return p
}

func password(s string) *string { return &s }

func TestJoinSpawnsAvatarAndAnnounces(t *testing.T) {
	r := newTestRoom(OpenRoom())
	alice := joinAs(t, r, 1, "alice")

	var res protocol.JoinResult
	alice.last(t, protocol.KindJoinResult, &res)
	if res.Accepted.ConnectionID != 1 {
		t.Fatalf("accepted id = %d, want 1", res.Accepted.ConnectionID)
	}
	if alice.count(protocol.KindAvatarSpawned) != 1 {
		t.Fatalf("alice should see her own avatar once, got %d spawns", alice.count(protocol.KindAvatarSpawned))
	}

	bob := joinAs(t, r, 2, "bob")
	if bob.count(protocol.KindAvatarSpawned) != 2 {
		t.Fatalf("bob should receive the full roster, got %d spawns", bob.count(protocol.KindAvatarSpawned))
	}
	var spawned protocol.AvatarSpawned
	alice.last(t, protocol.KindAvatarSpawned, &spawned)
	if spawned.ConnectionID != 2 || spawned.DisplayName != "bob" {
		t.Fatalf("alice saw %+v, want bob's spawn", spawned)
	}
	if r.Tracker().Len() != 2 || r.World().Len() != 2 {
		t.Fatalf("tracked=%d avatars=%d, want 2/2", r.Tracker().Len(), r.World().Len())
	}
	if got := r.metrics.HandshakesAccepted.Load(); got != 2 {
		t.Fatalf("accepted metric = %d", got)
	}
}

func TestSpawnPointInsideArea(t *testing.T) {
	r := newTestRoom(OpenRoom())
	for i := 1; i <= 20; i++ {
		joinAs(t, r, protocol.ConnID(i), "p"+string(rune('a'+i)))
	}
	r.World().Each(func(a *Avatar) {
		p := a.Transform.Translation
		if p.X() < -20 || p.X() >= 20 || p.Z() < -20 || p.Z() >= 20 {
			t.Fatalf("spawn %v outside the square", p)
		}
		if p.Y() != 30 {
			t.Fatalf("spawn height = %v, want 30", p.Y())
		}
		if a.Replicated != a.Transform {
			t.Fatalf("replicated transform must start equal to the authoritative one")
		}
	})
}

func TestRejectedHandshakeDoesNotTrack(t *testing.T) {
	policy, err := PasswordRoom("abc", 4)
	if err != nil {
		t.Fatal(err)
	}
	r := newTestRoom(policy)

	cases := []struct {
		pw   *string
		want string
	}{
		{nil, "required"},
		{password("xyz"), "incorrect"},
	}
	for i, c := range cases {
		id := protocol.ConnID(i + 1)
		p := connect(r, id)
		r.OnJoin(id, protocol.JoinRequest{DisplayName: "eve", RoomPassword: c.pw})
		r.ProcessOrdered()

		var res protocol.JoinResult
		p.last(t, protocol.KindJoinResult, &res)
		if res.Rejected == nil || !strings.Contains(res.Rejected.Reason, c.want) {
			t.Fatalf("case %d: result %+v, want rejection mentioning %q", i, res, c.want)
		}
		if p.count(protocol.KindAvatarSpawned) != 0 {
			t.Fatalf("rejected peer must not receive spawns")
		}
		if r.Tracker().Len() != 0 || r.World().Len() != 0 {
			t.Fatalf("rejection changed the tracker")
		}
	}

	p := connect(r, 9)
	r.OnJoin(9, protocol.JoinRequest{DisplayName: "eve", RoomPassword: password("abc")})
	r.ProcessOrdered()
	var res protocol.JoinResult
	p.last(t, protocol.KindJoinResult, &res)
	if res.Accepted == nil {
		t.Fatalf("correct password rejected: %+v", res.Rejected)
	}
}

func TestDuplicateNameWithinOneTick(t *testing.T) {
	r := newTestRoom(OpenRoom())
	a := connect(r, 1)
	b := connect(r, 2)
	r.OnJoin(1, protocol.JoinRequest{DisplayName: "twin"})
	r.OnJoin(2, protocol.JoinRequest{DisplayName: "twin"})
	r.ProcessOrdered()

	var ra, rb protocol.JoinResult
	a.last(t, protocol.KindJoinResult, &ra)
	b.last(t, protocol.KindJoinResult, &rb)
	if ra.Accepted == nil {
		t.Fatalf("first twin rejected: %+v", ra.Rejected)
	}
	if rb.Rejected == nil || !strings.Contains(rb.Rejected.Reason, "in use") {
		t.Fatalf("second twin: %+v, want name-in-use rejection", rb)
	}
	if r.Tracker().Len() != 1 {
		t.Fatalf("tracked = %d, want 1", r.Tracker().Len())
	}
}

func TestDisconnectDespawnsAndFreesName(t *testing.T) {
	r := newTestRoom(OpenRoom())
	joinAs(t, r, 1, "alice")
	bob := joinAs(t, r, 2, "bob")

	r.RequestLeave(1, "test")
	r.ProcessOrdered()

	if r.Tracker().Len() != 1 || r.World().Len() != 1 {
		t.Fatalf("tracked=%d avatars=%d after leave", r.Tracker().Len(), r.World().Len())
	}
	var gone protocol.AvatarDespawned
	bob.last(t, protocol.KindAvatarDespawned, &gone)
	if gone.ConnectionID != 1 {
		t.Fatalf("despawned %d, want 1", gone.ConnectionID)
	}
	if _, ok := r.Tracker().IDOf("alice"); ok {
		t.Fatalf("name still reserved after disconnect")
	}
	joinAs(t, r, 3, "alice")
}

func TestLeaveBeforeHandshake(t *testing.T) {
	r := newTestRoom(OpenRoom())
	bob := joinAs(t, r, 1, "bob")
	before := len(bob.frames)

	connect(r, 2)
	r.RequestLeave(2, "test")
	r.ProcessOrdered()

	if len(bob.frames) != before {
		t.Fatalf("unhandshaken leave produced broadcasts")
	}
	if r.Tracker().Len() != 1 || r.World().Len() != 1 {
		t.Fatalf("unhandshaken leave changed the world")
	}
	if r.metrics.Disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", r.metrics.Disconnects.Load())
	}
}

func TestHandshakeAfterDisconnectIsDropped(t *testing.T) {
	r := newTestRoom(OpenRoom())
	p := connect(r, 1)
	r.RequestLeave(1, "test")
	r.OnJoin(1, protocol.JoinRequest{DisplayName: "ghost"})
	r.ProcessOrdered()

	if len(p.frames) != 0 || r.Tracker().Len() != 0 {
		t.Fatalf("handshake from a departed connection was processed")
	}
}

func TestOrphanInputAndCommandAreDropped(t *testing.T) {
	r := newTestRoom(OpenRoom())
	joinAs(t, r, 1, "alice")
	r.RequestLeave(1, "test")
	r.ProcessOrdered()

	r.OnInput(Input{ConnID: 1, Sample: protocol.InputSample{Walk: 1}})
	r.OnCommand(1, protocol.AvatarCommand{ChangeTint: &protocol.ChangeTint{R: 1}})
	r.ProcessOrdered()
	r.ProcessInputs()

	if got := r.metrics.Orphaned.Load(); got != 2 {
		t.Fatalf("orphaned = %d, want 2", got)
	}
	if r.metrics.IntegrityErrors.Load() != 0 {
		t.Fatalf("orphans must not count as integrity errors")
	}
}

func TestChangeTint(t *testing.T) {
	r := newTestRoom(OpenRoom())
	joinAs(t, r, 1, "alice")
	r.OnCommand(1, protocol.AvatarCommand{ChangeTint: &protocol.ChangeTint{R: 10, G: 20, B: 30}})
	r.ProcessOrdered()

	h, _ := r.Tracker().AvatarOf(1)
	a, _ := r.World().Get(h)
	if a.Tint != (protocol.Tint{R: 10, G: 20, B: 30}) {
		t.Fatalf("tint = %+v", a.Tint)
	}
}

func TestSecondHandshakeIgnored(t *testing.T) {
	r := newTestRoom(OpenRoom())
	p := joinAs(t, r, 1, "alice")
	r.OnJoin(1, protocol.JoinRequest{DisplayName: "alice2"})
	r.ProcessOrdered()

	if p.count(protocol.KindJoinResult) != 1 {
		t.Fatalf("second handshake answered")
	}
	if name, _ := r.Tracker().NameOf(1); name != "alice" {
		t.Fatalf("name changed to %q", name)
	}
	if r.World().Len() != 1 {
		t.Fatalf("second handshake spawned another avatar")
	}
}

func TestInputRateLimit(t *testing.T) {
	r := NewRoom("limited", RoomOptions{
		Policy:     OpenRoom(),
		Tuning:     DefaultTuning(),
		Spawn:      SpawnArea{HalfExtent: 20, DropHeight: 30},
		InputRate:  0.001,
		InputBurst: 2,
		Rand:       rand.New(rand.NewSource(1)),
	})
	joinAs(t, r, 1, "spammer")
	for i := 0; i < 5; i++ {
		r.OnInput(Input{ConnID: 1, Sample: protocol.InputSample{Walk: 1}})
	}
	r.ProcessInputs()

	if got := r.metrics.InputsAccepted.Load(); got != 2 {
		t.Fatalf("accepted = %d, want 2", got)
	}
	if got := r.metrics.RateLimited.Load(); got != 3 {
		t.Fatalf("rate limited = %d, want 3", got)
	}
}

func TestInputsDrainOnlyWhatWasQueued(t *testing.T) {
	r := newTestRoom(OpenRoom())
	joinAs(t, r, 1, "alice")
	r.OnInput(Input{ConnID: 1})
	r.ProcessInputs()
	r.ProcessInputs()
	if got := r.metrics.InputsAccepted.Load(); got != 1 {
		t.Fatalf("accepted = %d, want 1", got)
	}
}

func TestWorldStateOnlyToTracked(t *testing.T) {
	r := newTestRoom(OpenRoom())
	joined := joinAs(t, r, 1, "alice")
	pending := connect(r, 2)
	r.Tick()

	if joined.count(protocol.KindWorldState) != 1 {
		t.Fatalf("tracked connection got %d world states", joined.count(protocol.KindWorldState))
	}
	if pending.count(protocol.KindWorldState) != 0 {
		t.Fatalf("unhandshaken connection received world state")
	}
}

func TestWorldStateCarriesReplicatedTransform(t *testing.T) {
	r := newTestRoom(OpenRoom())
	p := joinAs(t, r, 1, "alice")
	h, _ := r.Tracker().AvatarOf(1)
	a, _ := r.World().Get(h)

	before := a.Replicated
	a.Transform.Translation[0] += 5
	r.BroadcastState()

	var ws protocol.WorldState
	p.last(t, protocol.KindWorldState, &ws)
	if len(ws.Avatars) != 1 || ws.Avatars[0].Transform != before {
		t.Fatalf("snapshot must use the replicated transform until mirrored")
	}

	r.Tick()
	p.last(t, protocol.KindWorldState, &ws)
	if ws.Avatars[0].Transform != a.Transform {
		t.Fatalf("snapshot after tick = %+v, want %+v", ws.Avatars[0].Transform, a.Transform)
	}
	if ws.Tick != 1 {
		t.Fatalf("tick = %d, want 1", ws.Tick)
	}
}

func TestTuningAppliedAtTickStart(t *testing.T) {
	r := newTestRoom(OpenRoom())
	joinAs(t, r, 1, "alice")
	tuning := DefaultTuning()
	tuning.Gravity = 1
	r.SetTuning(tuning)

	h, _ := r.Tracker().AvatarOf(1)
	a, _ := r.World().Get(h)
	if a.Tuning.Gravity == 1 {
		t.Fatalf("tuning applied before the tick")
	}
	r.BeginTick()
	if a.Tuning.Gravity != 1 {
		t.Fatalf("tuning not applied: %+v", a.Tuning)
	}
}

func TestOrderedOverflowClosesPeer(t *testing.T) {
	r := newTestRoom(OpenRoom())
	p := connect(r, 1)
	p.full = true
	r.OnJoin(1, protocol.JoinRequest{DisplayName: "slow"})
	r.ProcessOrdered()
	if !p.closed {
		t.Fatalf("peer with a full ordered queue must be closed")
	}
}

func TestSafeTickRecoversPanic(t *testing.T) {
	r := newTestRoom(OpenRoom())
	// 没有连接对象的接入事件会在 Tick 内部触发 panic
	r.orderedChan <- orderedEvent{kind: evConnect}
	r.safeTick()
	if r.metrics.TickPanics.Load() != 1 {
		t.Fatalf("panics = %d, want 1", r.metrics.TickPanics.Load())
	}
}
