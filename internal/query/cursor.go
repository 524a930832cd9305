package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor is the decoded form of the opaque pagination token: the sort-key
// tuple of the last returned row plus its record identifier. Keys is aligned
// index-for-index with the query's SortTerms; the identifier is always the
// implicit final component.
//
// A cursor is a causal token. It resumes one specific traversal and is only
// meaningful against the same resource, filters and sort order that produced
// it.
type Cursor struct {
	Keys []Value
	ID   int64
}

// cursorKey is the wire form of one sort-key value.
type cursorKey struct {
	Type  ValueType `json:"t"`
	Value any       `json:"v,omitempty"`
}

type cursorWire struct {
	Keys []cursorKey `json:"k"`
	ID   int64       `json:"id"`
}

// Encode serializes the cursor into an opaque URL-safe token.
func (c *Cursor) Encode() string {
	wire := cursorWire{Keys: make([]cursorKey, len(c.Keys)), ID: c.ID}
	for i, v := range c.Keys {
		wire.Keys[i] = encodeKey(v)
	}
	// Marshal of cursorWire cannot fail: every payload is a scalar.
	data, _ := json.Marshal(wire)
	return base64.RawURLEncoding.EncodeToString(data)
}

func encodeKey(v Value) cursorKey {
	if v.IsNull {
		return cursorKey{Type: v.Type}
	}
	switch v.Type {
	case TypeNumber:
		return cursorKey{Type: v.Type, Value: v.Num}
	case TypeBoolean:
		return cursorKey{Type: v.Type, Value: v.Bool}
	case TypeTimestamp:
		return cursorKey{Type: v.Type, Value: v.Time.UTC().Format(time.RFC3339Nano)}
	default:
		return cursorKey{Type: v.Type, Value: v.Str}
	}
}

// DecodeCursor parses an opaque token back into a Cursor. The caller (the
// validator) still has to check that the tuple's arity and types match the
// active sort terms.
func DecodeCursor(token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var wire cursorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	cur := &Cursor{Keys: make([]Value, len(wire.Keys)), ID: wire.ID}
	for i, k := range wire.Keys {
		v, err := decodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("decode cursor key %d: %w", i, err)
		}
		cur.Keys[i] = v
	}
	return cur, nil
}

func decodeKey(k cursorKey) (Value, error) {
	switch k.Type {
	case TypeString, TypeNumber, TypeBoolean, TypeTimestamp:
	default:
		return Value{}, fmt.Errorf("unknown key type %q", k.Type)
	}
	if k.Value == nil {
		return Value{Type: k.Type, IsNull: true}, nil
	}
	switch k.Type {
	case TypeNumber:
		n, ok := k.Value.(float64)
		if !ok {
			return Value{}, fmt.Errorf("number key holds %T", k.Value)
		}
		return Value{Type: TypeNumber, Num: n}, nil
	case TypeBoolean:
		b, ok := k.Value.(bool)
		if !ok {
			return Value{}, fmt.Errorf("boolean key holds %T", k.Value)
		}
		return Value{Type: TypeBoolean, Bool: b}, nil
	case TypeTimestamp:
		s, ok := k.Value.(string)
		if !ok {
			return Value{}, fmt.Errorf("timestamp key holds %T", k.Value)
		}
		ts, err := parseTimestamp(s)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeTimestamp, Time: ts}, nil
	default:
		s, ok := k.Value.(string)
		if !ok {
			return Value{}, fmt.Errorf("string key holds %T", k.Value)
		}
		return Value{Type: TypeString, Str: s}, nil
	}
}
