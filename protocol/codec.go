package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	ErrBadChannel  = errors.New("protocol: message on wrong channel")
)

// Envelope 线上信封：投递类别 + 种类 + 负载
type Envelope struct {
	Channel Channel            `msgpack:"c"`
	Kind    Kind               `msgpack:"k"`
	Payload msgpack.RawMessage `msgpack:"p"`
}

// Encode 以该种类声明的投递类别封装消息
func Encode(kind Kind, v any) ([]byte, error) {
	ch, ok := ChannelOf(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return msgpack.Marshal(&Envelope{Channel: ch, Kind: kind, Payload: payload})
}

// Decode 解析信封，并校验种类与投递类别是否一致
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	ch, ok := ChannelOf(env.Kind)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if ch != env.Channel {
		return Envelope{}, fmt.Errorf("%w: %s sent on %s", ErrBadChannel, env.Kind, env.Channel)
	}
	return env, nil
}

// Unmarshal 将负载解码到 v
func (e Envelope) Unmarshal(v any) error {
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
