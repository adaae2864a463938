package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

// FrameKind tags the payload of a binary frame.
type FrameKind uint8

const (
	FrameSpawn FrameKind = iota + 1
	FrameDespawn
	FrameFields
	FrameSeats
)

func (k FrameKind) String() string {
	switch k {
	case FrameSpawn:
		return "SPAWN"
	case FrameDespawn:
		return "DESPAWN"
	case FrameFields:
		return "FIELDS"
	case FrameSeats:
		return "SEATS"
	default:
		return fmt.Sprintf("FRAME(%d)", uint8(k))
	}
}

// Frame is one replication message for one object.
type Frame struct {
	Kind    FrameKind `msgpack:"k"`
	Object  string    `msgpack:"o"`
	Tick    uint64    `msgpack:"t"`
	Payload []byte    `msgpack:"p,omitempty"`
}

// Spawn announces an object to an observer.
type Spawn struct {
	Definition string      `msgpack:"d"`
	Transform  [10]float64 `msgpack:"x"` // position xyz, rotation quat wxyz, scale xyz
	YawSteps   int         `msgpack:"y"`
}

// Compression codecs, stored in the first byte of an encoded frame.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressZstd
	CompressLZ4
)

func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressNone, nil
	case "zstd":
		return CompressZstd, nil
	case "lz4":
		return CompressLZ4, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressZstd:
		return "zstd"
	case CompressLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var ErrShortFrame = errors.New("protocol: empty frame")

var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zdec, _ = zstd.NewReader(nil)
)

// Encode serializes f with msgpack and compresses it with c.
func Encode(f Frame, c Compression) ([]byte, error) {
	body, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, err
	}
	out := []byte{byte(c)}
	switch c {
	case CompressNone:
		return append(out, body...), nil
	case CompressZstd:
		return zenc.EncodeAll(body, out), nil
	case CompressLZ4:
		buf := bytes.NewBuffer(out)
		zw := lz4.NewWriter(buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("encode frame: %s", c)
}

// Decode reverses Encode.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) == 0 {
		return f, ErrShortFrame
	}
	body := b[1:]
	switch Compression(b[0]) {
	case CompressNone:
	case CompressZstd:
		raw, err := zdec.DecodeAll(body, nil)
		if err != nil {
			return f, fmt.Errorf("decode frame: %w", err)
		}
		body = raw
	case CompressLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return f, fmt.Errorf("decode frame: %w", err)
		}
		body = raw
	default:
		return f, fmt.Errorf("decode frame: %s", Compression(b[0]))
	}
	if err := msgpack.Unmarshal(body, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func newFrame(kind FrameKind, object string, tick uint64, payload any) (Frame, error) {
	f := Frame{Kind: kind, Object: object, Tick: tick}
	if payload == nil {
		return f, nil
	}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return f, err
	}
	f.Payload = b
	return f, nil
}

func SpawnFrame(object string, tick uint64, s Spawn) (Frame, error) {
	return newFrame(FrameSpawn, object, tick, &s)
}

func DespawnFrame(object string, tick uint64) Frame {
	return Frame{Kind: FrameDespawn, Object: object, Tick: tick}
}

func FieldsFrame(object string, tick uint64, snap syncvar.Snapshot) (Frame, error) {
	return newFrame(FrameFields, object, tick, &snap)
}

func SeatsFrame(object string, tick uint64, snap seats.Snapshot) (Frame, error) {
	return newFrame(FrameSeats, object, tick, &snap)
}

func (f Frame) Spawn() (Spawn, error) {
	var s Spawn
	err := f.decodePayload(FrameSpawn, &s)
	return s, err
}

func (f Frame) Fields() (syncvar.Snapshot, error) {
	var s syncvar.Snapshot
	err := f.decodePayload(FrameFields, &s)
	return s, err
}

func (f Frame) Seats() (seats.Snapshot, error) {
	var s seats.Snapshot
	err := f.decodePayload(FrameSeats, &s)
	return s, err
}

func (f Frame) decodePayload(want FrameKind, v any) error {
	if f.Kind != want {
		return fmt.Errorf("frame is %s, not %s", f.Kind, want)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	return msgpack.Unmarshal(f.Payload, v)
}
