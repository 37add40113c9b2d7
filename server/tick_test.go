package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
)

func TestSafeTickDoesNotWaitForSentry(t *testing.T) {
	got := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		select {
		case got <- struct{}{}:
		default:
		}
		// 模拟上报接口卡住
		select {
		case <-release:
		case <-req.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sc, err := sentry.NewClient(sentry.ClientOptions{Dsn: fmt.Sprintf("http://public@%s/1", srv.Listener.Addr())})
	if err != nil {
		t.Fatal(err)
	}
	hub := sentry.CurrentHub()
	prev := hub.Client()
	hub.BindClient(sc)
	defer hub.BindClient(prev)

	r := newTestRoom(OpenRoom())
	r.orderedChan <- orderedEvent{kind: evConnect}
	start := time.Now()
	r.safeTick()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick blocked %v on event delivery", elapsed)
	}
	if r.metrics.TickPanics.Load() != 1 {
		t.Fatalf("panics = %d, want 1", r.metrics.TickPanics.Load())
	}
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("panic was never reported")
	}
}
