// Package wire implements the binary frame protocol spoken over the
// per-session connection. Every outbound frame starts with a kind, flag
// bits, and the tick it belongs to; payloads above a size threshold are
// s2-compressed.
package wire

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/s2"

	"github.com/ernie/arena-relay/internal/domain"
)

// FrameKind identifies an outbound frame type.
type FrameKind uint8

const (
	FrameFullSnapshot FrameKind = iota + 1
	FrameDelta
	FrameLeaderboard
	FrameChat
	FrameNotice
	FrameWelcome
	FrameClose
)

// String returns the frame kind name used in logs.
func (k FrameKind) String() string {
	switch k {
	case FrameFullSnapshot:
		return "full_snapshot"
	case FrameDelta:
		return "delta"
	case FrameLeaderboard:
		return "leaderboard"
	case FrameChat:
		return "chat"
	case FrameNotice:
		return "notice"
	case FrameWelcome:
		return "welcome"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Critical reports whether frames of this kind may never be dropped by
// backpressure policy. World-sync and chat traffic is lossy-tolerant
// because fresher frames supersede older ones; identity-affecting frames
// are not.
func (k FrameKind) Critical() bool {
	switch k {
	case FrameLeaderboard, FrameNotice, FrameWelcome, FrameClose:
		return true
	default:
		return false
	}
}

const flagCompressed = 0x01

// compressThreshold is the payload size above which frames are compressed.
const compressThreshold = 256

// EncodeFrame wraps a payload in the outbound frame header.
func EncodeFrame(kind FrameKind, tick domain.WorldTick, payload []byte) []byte {
	var flags uint8
	if len(payload) > compressThreshold {
		payload = s2.Encode(nil, payload)
		flags |= flagCompressed
	}
	var w binaryWriter
	w.writeUint8(uint8(kind))
	w.writeUint8(flags)
	w.writeUint64(tick)
	_, _ = w.buf.Write(payload)
	return w.bytes()
}

// DecodeFrame splits an outbound frame into its header and raw payload,
// decompressing if needed.
func DecodeFrame(data []byte) (FrameKind, domain.WorldTick, []byte, error) {
	r := &binaryReader{data: data}
	kind, err := r.readUint8()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decoding frame header: %w", err)
	}
	flags, err := r.readUint8()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decoding frame header: %w", err)
	}
	tick, err := r.readUint64()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decoding frame header: %w", err)
	}
	payload := data[r.offset:]
	if flags&flagCompressed != 0 {
		payload, err = s2.Decode(nil, payload)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("decompressing frame payload: %w", err)
		}
	}
	return FrameKind(kind), tick, payload, nil
}

func writeEntity(w *binaryWriter, e domain.EntitySnapshot) {
	w.writeUint64(e.ID)
	w.writeUint8(uint8(e.Kind))
	w.writeFloat32(e.X)
	w.writeFloat32(e.Y)
	w.writeFloat32(e.VX)
	w.writeFloat32(e.VY)
	w.writeFloat32(e.Heading)
	w.writeFloat32(e.Health)
	w.writeString(e.Owner)
}

func readEntity(r *binaryReader) (domain.EntitySnapshot, error) {
	var e domain.EntitySnapshot
	var err error
	if e.ID, err = r.readUint64(); err != nil {
		return e, err
	}
	kind, err := r.readUint8()
	if err != nil {
		return e, err
	}
	e.Kind = domain.EntityKind(kind)
	if e.X, err = r.readFloat32(); err != nil {
		return e, err
	}
	if e.Y, err = r.readFloat32(); err != nil {
		return e, err
	}
	if e.VX, err = r.readFloat32(); err != nil {
		return e, err
	}
	if e.VY, err = r.readFloat32(); err != nil {
		return e, err
	}
	if e.Heading, err = r.readFloat32(); err != nil {
		return e, err
	}
	if e.Health, err = r.readFloat32(); err != nil {
		return e, err
	}
	if e.Owner, err = r.readString(); err != nil {
		return e, err
	}
	return e, nil
}

func writeUpdate(w *binaryWriter, u domain.EntityUpdate) {
	w.writeUint64(u.ID)
	w.writeUint8(uint8(u.Mask))
	if u.Mask.Has(domain.FieldPos) {
		w.writeFloat32(u.Entity.X)
		w.writeFloat32(u.Entity.Y)
	}
	if u.Mask.Has(domain.FieldVel) {
		w.writeFloat32(u.Entity.VX)
		w.writeFloat32(u.Entity.VY)
	}
	if u.Mask.Has(domain.FieldHeading) {
		w.writeFloat32(u.Entity.Heading)
	}
	if u.Mask.Has(domain.FieldHealth) {
		w.writeFloat32(u.Entity.Health)
	}
	if u.Mask.Has(domain.FieldOwner) {
		w.writeString(u.Entity.Owner)
	}
}

func readUpdate(r *binaryReader) (domain.EntityUpdate, error) {
	var u domain.EntityUpdate
	var err error
	if u.ID, err = r.readUint64(); err != nil {
		return u, err
	}
	mask, err := r.readUint8()
	if err != nil {
		return u, err
	}
	u.Mask = domain.FieldMask(mask)
	u.Entity.ID = u.ID
	if u.Mask.Has(domain.FieldPos) {
		if u.Entity.X, err = r.readFloat32(); err != nil {
			return u, err
		}
		if u.Entity.Y, err = r.readFloat32(); err != nil {
			return u, err
		}
	}
	if u.Mask.Has(domain.FieldVel) {
		if u.Entity.VX, err = r.readFloat32(); err != nil {
			return u, err
		}
		if u.Entity.VY, err = r.readFloat32(); err != nil {
			return u, err
		}
	}
	if u.Mask.Has(domain.FieldHeading) {
		if u.Entity.Heading, err = r.readFloat32(); err != nil {
			return u, err
		}
	}
	if u.Mask.Has(domain.FieldHealth) {
		if u.Entity.Health, err = r.readFloat32(); err != nil {
			return u, err
		}
	}
	if u.Mask.Has(domain.FieldOwner) {
		if u.Entity.Owner, err = r.readString(); err != nil {
			return u, err
		}
	}
	return u, nil
}

// EncodeFull encodes a complete entity set frame.
func EncodeFull(tick domain.WorldTick, entities []domain.EntitySnapshot) []byte {
	var w binaryWriter
	w.writeUint32(uint32(len(entities)))
	for _, e := range entities {
		writeEntity(&w, e)
	}
	return EncodeFrame(FrameFullSnapshot, tick, w.bytes())
}

// DecodeFull decodes a full-snapshot payload.
func DecodeFull(payload []byte) ([]domain.EntitySnapshot, error) {
	r := &binaryReader{data: payload}
	count, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("decoding full snapshot: %w", err)
	}
	entities := make([]domain.EntitySnapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEntity(r)
		if err != nil {
			return nil, fmt.Errorf("decoding full snapshot entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// EncodeDelta encodes a delta frame.
func EncodeDelta(d *domain.DeltaFrame) []byte {
	var w binaryWriter
	w.writeUint64(d.BaselineTick)
	w.writeUint32(uint32(len(d.Added)))
	for _, e := range d.Added {
		writeEntity(&w, e)
	}
	w.writeUint32(uint32(len(d.Updated)))
	for _, u := range d.Updated {
		writeUpdate(&w, u)
	}
	w.writeUint32(uint32(len(d.Removed)))
	for _, id := range d.Removed {
		w.writeUint64(id)
	}
	return EncodeFrame(FrameDelta, d.Tick, w.bytes())
}

// DecodeDelta decodes a delta payload. The frame tick comes from the header.
func DecodeDelta(tick domain.WorldTick, payload []byte) (*domain.DeltaFrame, error) {
	r := &binaryReader{data: payload}
	d := &domain.DeltaFrame{Tick: tick}
	var err error
	if d.BaselineTick, err = r.readUint64(); err != nil {
		return nil, fmt.Errorf("decoding delta baseline: %w", err)
	}
	added, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("decoding delta: %w", err)
	}
	for i := uint32(0); i < added; i++ {
		e, err := readEntity(r)
		if err != nil {
			return nil, fmt.Errorf("decoding delta addition: %w", err)
		}
		d.Added = append(d.Added, e)
	}
	updated, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("decoding delta: %w", err)
	}
	for i := uint32(0); i < updated; i++ {
		u, err := readUpdate(r)
		if err != nil {
			return nil, fmt.Errorf("decoding delta update: %w", err)
		}
		d.Updated = append(d.Updated, u)
	}
	removed, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("decoding delta: %w", err)
	}
	for i := uint32(0); i < removed; i++ {
		id, err := r.readUint64()
		if err != nil {
			return nil, fmt.Errorf("decoding delta removal: %w", err)
		}
		d.Removed = append(d.Removed, id)
	}
	return d, nil
}

// EncodeLeaderboard encodes a published leaderboard snapshot.
func EncodeLeaderboard(snap *domain.LeaderboardSnapshot) []byte {
	var w binaryWriter
	w.writeString(string(snap.Period))
	w.writeUint16(uint16(len(snap.Entries)))
	for _, e := range snap.Entries {
		w.writeUint16(uint16(e.Rank))
		w.writeString(e.PlayerID)
		w.writeString(e.Name)
		w.writeInt64(e.Score)
		w.writeInt64(e.AchievedAt.UnixMilli())
	}
	return EncodeFrame(FrameLeaderboard, snap.Tick, w.bytes())
}

// DecodeLeaderboard decodes a leaderboard payload.
func DecodeLeaderboard(tick domain.WorldTick, payload []byte) (*domain.LeaderboardSnapshot, error) {
	r := &binaryReader{data: payload}
	period, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("decoding leaderboard: %w", err)
	}
	count, err := r.readUint16()
	if err != nil {
		return nil, fmt.Errorf("decoding leaderboard: %w", err)
	}
	snap := &domain.LeaderboardSnapshot{Period: domain.LeaderboardPeriod(period), Tick: tick}
	for i := uint16(0); i < count; i++ {
		var e domain.LeaderboardEntry
		rank, err := r.readUint16()
		if err != nil {
			return nil, fmt.Errorf("decoding leaderboard entry: %w", err)
		}
		e.Rank = int(rank)
		if e.PlayerID, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding leaderboard entry: %w", err)
		}
		if e.Name, err = r.readString(); err != nil {
			return nil, fmt.Errorf("decoding leaderboard entry: %w", err)
		}
		if e.Score, err = r.readInt64(); err != nil {
			return nil, fmt.Errorf("decoding leaderboard entry: %w", err)
		}
		ms, err := r.readInt64()
		if err != nil {
			return nil, fmt.Errorf("decoding leaderboard entry: %w", err)
		}
		e.AchievedAt = time.UnixMilli(ms).UTC()
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

// EncodeChat encodes a filtered chat message for delivery.
func EncodeChat(tick domain.WorldTick, msg *domain.ChatMessage) []byte {
	var w binaryWriter
	w.writeUint8(uint8(msg.Scope))
	w.writeString(msg.Sender)
	w.writeString(msg.Filtered)
	w.writeInt64(msg.SentAt.UnixMilli())
	return EncodeFrame(FrameChat, tick, w.bytes())
}

// DecodeChat decodes a chat delivery payload.
func DecodeChat(payload []byte) (*domain.ChatMessage, error) {
	r := &binaryReader{data: payload}
	scope, err := r.readUint8()
	if err != nil {
		return nil, fmt.Errorf("decoding chat: %w", err)
	}
	msg := &domain.ChatMessage{Scope: domain.ChatScope(scope)}
	if msg.Sender, err = r.readString(); err != nil {
		return nil, fmt.Errorf("decoding chat: %w", err)
	}
	if msg.Filtered, err = r.readString(); err != nil {
		return nil, fmt.Errorf("decoding chat: %w", err)
	}
	ms, err := r.readInt64()
	if err != nil {
		return nil, fmt.Errorf("decoding chat: %w", err)
	}
	msg.SentAt = time.UnixMilli(ms).UTC()
	return msg, nil
}

// EncodeNotice encodes a session-critical notice.
func EncodeNotice(tick domain.WorldTick, code, message string) []byte {
	var w binaryWriter
	w.writeString(code)
	w.writeString(message)
	return EncodeFrame(FrameNotice, tick, w.bytes())
}

// DecodeNotice decodes a notice payload.
func DecodeNotice(payload []byte) (code, message string, err error) {
	r := &binaryReader{data: payload}
	if code, err = r.readString(); err != nil {
		return "", "", fmt.Errorf("decoding notice: %w", err)
	}
	if message, err = r.readString(); err != nil {
		return "", "", fmt.Errorf("decoding notice: %w", err)
	}
	return code, message, nil
}

// EncodeWelcome encodes the handshake acceptance frame.
func EncodeWelcome(sessionID, playerID, name, token string) []byte {
	var w binaryWriter
	w.writeString(sessionID)
	w.writeString(playerID)
	w.writeString(name)
	w.writeString(token)
	return EncodeFrame(FrameWelcome, 0, w.bytes())
}

// Welcome is the decoded handshake acceptance.
type Welcome struct {
	SessionID string
	PlayerID  string
	Name      string
	Token     string
}

// DecodeWelcome decodes a welcome payload.
func DecodeWelcome(payload []byte) (*Welcome, error) {
	r := &binaryReader{data: payload}
	var wl Welcome
	var err error
	if wl.SessionID, err = r.readString(); err != nil {
		return nil, fmt.Errorf("decoding welcome: %w", err)
	}
	if wl.PlayerID, err = r.readString(); err != nil {
		return nil, fmt.Errorf("decoding welcome: %w", err)
	}
	if wl.Name, err = r.readString(); err != nil {
		return nil, fmt.Errorf("decoding welcome: %w", err)
	}
	if wl.Token, err = r.readString(); err != nil {
		return nil, fmt.Errorf("decoding welcome: %w", err)
	}
	return &wl, nil
}

// EncodeClose encodes the session close frame with its reason code.
func EncodeClose(tick domain.WorldTick, reason domain.CloseReason) []byte {
	var w binaryWriter
	w.writeString(string(reason))
	return EncodeFrame(FrameClose, tick, w.bytes())
}

// DecodeClose decodes a close payload.
func DecodeClose(payload []byte) (domain.CloseReason, error) {
	r := &binaryReader{data: payload}
	reason, err := r.readString()
	if err != nil {
		return "", fmt.Errorf("decoding close: %w", err)
	}
	return domain.CloseReason(reason), nil
}
