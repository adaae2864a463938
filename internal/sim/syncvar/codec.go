package syncvar

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Codec serializes one field value. FixedSize reports the exact encoded
// length for fixed-width types, or -1 when the encoding is length-prefixed.
type Codec[V any] interface {
	FixedSize() int
	Encode(V) []byte
	Decode([]byte) (V, error)
}

type int32Codec struct{}

func Int32() Codec[int32] { return int32Codec{} }

func (int32Codec) FixedSize() int { return 4 }

func (int32Codec) Encode(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func (int32Codec) Decode(b []byte) (int32, error) {
	return int32(binary.LittleEndian.Uint32(b)), nil
}

type float32Codec struct{}

func Float32() Codec[float32] { return float32Codec{} }

func (float32Codec) FixedSize() int { return 4 }

func (float32Codec) Encode(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func (float32Codec) Decode(b []byte) (float32, error) {
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

type boolCodec struct{}

func Bool() Codec[bool] { return boolCodec{} }

func (boolCodec) FixedSize() int { return 1 }

func (boolCodec) Encode(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func (boolCodec) Decode(b []byte) (bool, error) {
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bad bool byte %d", b[0])
	}
}

type float32ArrayCodec struct{ n int }

// Float32Array encodes a slice of exactly n float32 values.
func Float32Array(n int) Codec[[]float32] { return float32ArrayCodec{n: n} }

func (c float32ArrayCodec) FixedSize() int { return 4 * c.n }

func (c float32ArrayCodec) Encode(v []float32) []byte {
	b := make([]byte, 4*c.n)
	for i := 0; i < c.n && i < len(v); i++ {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v[i]))
	}
	return b
}

func (c float32ArrayCodec) Decode(b []byte) ([]float32, error) {
	out := make([]float32, c.n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

type stringCodec struct{ max int }

// String encodes a uint16 length prefix followed by UTF-8 bytes.
func String(max int) Codec[string] {
	if max <= 0 || max > math.MaxUint16 {
		max = math.MaxUint16
	}
	return stringCodec{max: max}
}

func (stringCodec) FixedSize() int { return -1 }

func (c stringCodec) Encode(v string) []byte {
	if len(v) > c.max {
		n := c.max
		for n > 0 && !utf8.RuneStart(v[n]) {
			n--
		}
		v = v[:n]
	}
	b := make([]byte, 2+len(v))
	binary.LittleEndian.PutUint16(b, uint16(len(v)))
	copy(b[2:], v)
	return b
}

func (c stringCodec) Decode(b []byte) (string, error) {
	if len(b) < 2 {
		return "", fmt.Errorf("short string header: %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint16(b))
	if n != len(b)-2 {
		return "", fmt.Errorf("string length %d, payload %d", n, len(b)-2)
	}
	if n > c.max {
		return "", fmt.Errorf("string length %d over limit %d", n, c.max)
	}
	s := string(b[2:])
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("string is not valid utf-8")
	}
	return s, nil
}
