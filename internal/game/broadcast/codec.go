// Package broadcast delivers named events to live connections.
package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes outbound events and decodes inbound client frames.
type Codec interface {
	// Name returns the configuration name of the codec.
	Name() string
	// Binary reports whether frames must be written as binary messages.
	Binary() bool
	// Encode produces one frame for event carrying payload.
	Encode(event string, payload any) ([]byte, error)
	// Decode parses one client frame.
	Decode(data []byte) (Inbound, error)
}

// Inbound is a decoded client frame whose payload is bound lazily.
type Inbound struct {
	Event string
	raw   []byte
	bind  func([]byte, any) error
}

// NewInbound builds an Inbound whose payload decodes with bind.
func NewInbound(event string, raw []byte, bind func([]byte, any) error) Inbound {
	return Inbound{Event: event, raw: raw, bind: bind}
}

// Bind decodes the frame payload into v.
//
// Postcondition: Returns an error if the payload is missing or does not fit v.
func (in Inbound) Bind(v any) error {
	if len(in.raw) == 0 || in.bind == nil {
		return fmt.Errorf("event %q: missing payload", in.Event)
	}
	if err := in.bind(in.raw, v); err != nil {
		return fmt.Errorf("event %q: decoding payload: %w", in.Event, err)
	}
	return nil
}

// NewCodec returns the codec registered under name.
//
// Precondition: name is "json" or "msgpack".
func NewCodec(name string) (Codec, error) {
	switch name {
	case "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec frames events as {"event": name, "data": payload} text messages.
type JSONCodec struct{}

type jsonFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Binary implements Codec.
func (JSONCodec) Binary() bool { return false }

// Encode implements Codec.
func (JSONCodec) Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: payload})
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (Inbound, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("decoding json frame: %w", err)
	}
	if f.Event == "" {
		return Inbound{}, fmt.Errorf("decoding json frame: missing event name")
	}
	return NewInbound(f.Event, f.Data, json.Unmarshal), nil
}

// MsgpackCodec frames events as msgpack maps sent as binary messages.
// Struct fields use their json tags so payload types need a single tag set.
type MsgpackCodec struct{}

type msgpackFrame struct {
	Event string             `json:"event"`
	Data  msgpack.RawMessage `json:"data"`
}

// Name implements Codec.
func (MsgpackCodec) Name() string { return "msgpack" }

// Binary implements Codec.
func (MsgpackCodec) Binary() bool { return true }

// Encode implements Codec.
func (MsgpackCodec) Encode(event string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	err := enc.Encode(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: payload})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (MsgpackCodec) Decode(data []byte) (Inbound, error) {
	var f msgpackFrame
	if err := msgpackUnmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("decoding msgpack frame: %w", err)
	}
	if f.Event == "" {
		return Inbound{}, fmt.Errorf("decoding msgpack frame: missing event name")
	}
	return NewInbound(f.Event, f.Data, msgpackUnmarshal), nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
