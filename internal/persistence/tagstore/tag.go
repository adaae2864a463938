package tagstore

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Tag is a key-value compound holding one object's persisted state.
// Values are strings, numbers, bools, byte slices or nested Tags.
type Tag map[string]any

func NewTag() Tag { return Tag{} }

func (t Tag) Has(key string) bool {
	_, ok := t[key]
	return ok
}

func (t Tag) SetString(key, v string)   { t[key] = v }
func (t Tag) SetInt(key string, v int64) { t[key] = v }
func (t Tag) SetFloat(key string, v float64) {
	t[key] = v
}
func (t Tag) SetBool(key string, v bool) { t[key] = v }
func (t Tag) SetTag(key string, v Tag)   { t[key] = map[string]any(v) }

func (t Tag) String(key string) (string, bool) {
	v, ok := t[key].(string)
	return v, ok
}

func (t Tag) Bool(key string) (bool, bool) {
	v, ok := t[key].(bool)
	return v, ok
}

// Int accepts every integer width msgpack may hand back after a round trip.
func (t Tag) Int(key string) (int64, bool) {
	switch v := t[key].(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}

func (t Tag) Float(key string) (float64, bool) {
	switch v := t[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		if i, ok := t.Int(key); ok {
			return float64(i), true
		}
		return 0, false
	}
}

func (t Tag) Tag(key string) (Tag, bool) {
	switch v := t[key].(type) {
	case Tag:
		return v, true
	case map[string]any:
		return Tag(v), true
	default:
		return nil, false
	}
}

// Marshal encodes the tag with msgpack.
func (t Tag) Marshal() ([]byte, error) {
	return msgpack.Marshal(map[string]any(t))
}

func Unmarshal(b []byte) (Tag, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("tagstore: decode tag: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Tag(m), nil
}
