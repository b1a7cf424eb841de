package wire

import (
	"fmt"

	"github.com/ernie/arena-relay/internal/domain"
)

// InboundKind identifies a client-to-server message type.
type InboundKind uint8

const (
	InboundHello InboundKind = iota + 1
	InboundInput
	InboundAck
	InboundChat
	InboundSubscribe
)

// String returns the inbound kind name used in logs.
func (k InboundKind) String() string {
	switch k {
	case InboundHello:
		return "hello"
	case InboundInput:
		return "input"
	case InboundAck:
		return "ack"
	case InboundChat:
		return "chat"
	case InboundSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// Hello is the handshake: an optional identity token plus a display name.
// An absent token means anonymous play.
type Hello struct {
	Token     string
	Name      string
	UserAgent string
}

// InputCommand is a per-tick control input from the client.
type InputCommand struct {
	Seq    uint32
	Thrust float32
	Turn   float32
	Fire   bool
}

// ChatRequest is an outgoing chat line before moderation.
type ChatRequest struct {
	Scope  domain.ChatScope
	Target string
	Text   string
}

// Inbound is one decoded client message. Exactly one of the payload fields
// matching Kind is set.
type Inbound struct {
	Kind    InboundKind
	Hello   *Hello
	Input   *InputCommand
	AckTick domain.WorldTick
	Chat    *ChatRequest
	Region  string
}

// EncodeHello encodes a handshake message.
func EncodeHello(h *Hello) []byte {
	var w binaryWriter
	w.writeUint8(uint8(InboundHello))
	w.writeString(h.Token)
	w.writeString(h.Name)
	w.writeString(h.UserAgent)
	return w.bytes()
}

// EncodeInput encodes an input command.
func EncodeInput(in *InputCommand) []byte {
	var w binaryWriter
	w.writeUint8(uint8(InboundInput))
	w.writeUint32(in.Seq)
	w.writeFloat32(in.Thrust)
	w.writeFloat32(in.Turn)
	w.writeBool(in.Fire)
	return w.bytes()
}

// EncodeAck encodes a tick acknowledgment.
func EncodeAck(tick domain.WorldTick) []byte {
	var w binaryWriter
	w.writeUint8(uint8(InboundAck))
	w.writeUint64(tick)
	return w.bytes()
}

// EncodeChatRequest encodes an outgoing chat line.
func EncodeChatRequest(c *ChatRequest) []byte {
	var w binaryWriter
	w.writeUint8(uint8(InboundChat))
	w.writeUint8(uint8(c.Scope))
	w.writeString(c.Target)
	w.writeString(c.Text)
	return w.bytes()
}

// EncodeSubscribe encodes a world subscription request.
func EncodeSubscribe(region string) []byte {
	var w binaryWriter
	w.writeUint8(uint8(InboundSubscribe))
	w.writeString(region)
	return w.bytes()
}

// DecodeInbound decodes one client message.
func DecodeInbound(data []byte) (*Inbound, error) {
	r := &binaryReader{data: data}
	kind, err := r.readUint8()
	if err != nil {
		return nil, fmt.Errorf("decoding inbound kind: %w", err)
	}
	msg := &Inbound{Kind: InboundKind(kind)}
	switch msg.Kind {
	case InboundHello:
		var h Hello
		if h.Token, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding hello: %w", err)
		}
		if h.Name, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding hello: %w", err)
		}
		if h.UserAgent, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding hello: %w", err)
		}
		msg.Hello = &h
	case InboundInput:
		var in InputCommand
		if in.Seq, err = r.readUint32(); err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
		if in.Thrust, err = r.readFloat32(); err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
		if in.Turn, err = r.readFloat32(); err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
		if in.Fire, err = r.readBool(); err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
		msg.Input = &in
	case InboundAck:
		if msg.AckTick, err = r.readUint64(); err != nil {
			return nil, fmt.Errorf("decoding ack: %w", err)
		}
	case InboundChat:
		var c ChatRequest
		scope, err := r.readUint8()
		if err != nil {
			return nil, fmt.Errorf("decoding chat request: %w", err)
		}
		c.Scope = domain.ChatScope(scope)
		if c.Target, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding chat request: %w", err)
		}
		if c.Text, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding chat request: %w", err)
		}
		msg.Chat = &c
	case InboundSubscribe:
		if msg.Region, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding subscribe: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown inbound kind %d", kind)
	}
	return msg, nil
}
