package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"imsim/protocol"
)

// Transport 已建立的连接：按种类发送消息，按到达顺序接收信封
type Transport interface {
	Send(kind protocol.Kind, v any) error
	Incoming() <-chan protocol.Envelope
	// Done 在连接断开后关闭，Err 返回断开原因
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer 建立到服务端的连接
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// WSDialer 通过 WebSocket 连接服务端，并携带协议版本号
type WSDialer struct {
	Path    string
	Timeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	path := d.Path
	if path == "" {
		path = "/ws"
	}
	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     path,
		RawQuery: protocol.ProtocolParam + "=" + strconv.FormatUint(protocol.ProtocolVersion, 10),
	}
	dialer := *websocket.DefaultDialer
	if d.Timeout > 0 {
		dialer.HandshakeTimeout = d.Timeout
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", u.String(), err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return newWSTransport(ws), nil
}

type wsTransport struct {
	ws       *websocket.Conn
	incoming chan protocol.Envelope
	done     chan struct{}
	closing  chan struct{}

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn) *wsTransport {
	t := &wsTransport{
		ws:       ws,
		incoming: make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go t.readPump()
	return t
}

func (t *wsTransport) Send(kind protocol.Kind, v any) error {
	b, err := protocol.Encode(kind, v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return t.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (t *wsTransport) Incoming() <-chan protocol.Envelope { return t.incoming }
func (t *wsTransport) Done() <-chan struct{}              { return t.done }

func (t *wsTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)
		t.writeMu.Lock()
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.ws.Close()
	})
	return err
}

// readPump 有序消息阻塞入队；不可靠消息在队列满时丢弃
func (t *wsTransport) readPump() {
	defer close(t.done)
	for {
		_, payload, err := t.ws.ReadMessage()
		if err != nil {
			t.errMu.Lock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("connection closed")
			}
			t.err = err
			t.errMu.Unlock()
			return
		}
		env, err := protocol.Decode(payload)
		if err != nil {
			continue
		}
		if env.Channel == protocol.Unreliable {
			select {
			case t.incoming <- env:
			default:
			}
			continue
		}
		select {
		case t.incoming <- env:
		case <-t.closing:
			return
		}
	}
}
