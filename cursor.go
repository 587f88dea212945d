package filterql

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Direction is the sort direction of a query and of the cursor minted for it.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

func parseDirection(s string) (Direction, bool) {
	switch s {
	case "asc":
		return Asc, true
	case "desc":
		return Desc, true
	default:
		return Asc, false
	}
}

// CursorState is the decoded resume point of a keyset page. Integers come back
// as int64, floats as float64 and times in UTC.
type CursorState struct {
	SortKey   string
	LastValue any
	LastID    any
	Direction Direction
}

const (
	cursorVersion   = 1
	maxCursorLength = 2048
)

// CursorCodec turns CursorState into an opaque URL-safe token and back. With
// a secret, tokens are signed with HMAC-SHA256 and tampering is detected. A
// nil *CursorCodec behaves like an unsigned codec.
type CursorCodec struct {
	secret []byte
}

// NewCursorCodec returns a codec; an empty secret disables signing.
func NewCursorCodec(secret []byte) *CursorCodec {
	return &CursorCodec{secret: append([]byte(nil), secret...)}
}

type cursorPayload struct {
	Version   int         `json:"v"`
	SortKey   string      `json:"k"`
	Direction string      `json:"d"`
	Value     cursorValue `json:"val"`
	ID        cursorValue `json:"id"`
}

// cursorValue tags the JSON value so decoding restores its Go type:
// s string, i integer, f float, b bool, t time, z nil.
type cursorValue struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

// Encode mints a cursor for the page ending at (lastValue, lastID).
func (c *CursorCodec) Encode(sortKey string, lastValue, lastID any, dir Direction) (string, error) {
	val, err := encodeCursorValue(lastValue)
	if err != nil {
		return "", fmt.Errorf("cursor value: %w", err)
	}
	id, err := encodeCursorValue(lastID)
	if err != nil {
		return "", fmt.Errorf("cursor id: %w", err)
	}
	raw, err := json.Marshal(cursorPayload{
		Version:   cursorVersion,
		SortKey:   sortKey,
		Direction: dir.String(),
		Value:     val,
		ID:        id,
	})
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	if c == nil || len(c.secret) == 0 {
		return body, nil
	}
	return body + "." + c.sign(body), nil
}

// Decode verifies and unpacks a cursor. It fails with ErrInvalidCursor when
// the token is malformed, tampered with, or was minted for another sort key.
func (c *CursorCodec) Decode(cursor, expectedSortKey string) (CursorState, error) {
	if cursor == "" {
		return CursorState{}, invalidCursor("cursor is empty")
	}
	if len(cursor) > maxCursorLength {
		return CursorState{}, invalidCursor("cursor is too long")
	}
	body, sig, signed := strings.Cut(cursor, ".")
	switch {
	case c != nil && len(c.secret) > 0:
		if !signed || !hmac.Equal([]byte(sig), []byte(c.sign(body))) {
			return CursorState{}, invalidCursor("cursor signature does not match")
		}
	case signed:
		return CursorState{}, invalidCursor("cursor is malformed")
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return CursorState{}, invalidCursor("cursor is not valid base64")
	}
	var p cursorPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return CursorState{}, invalidCursor("cursor payload is malformed")
	}
	if p.Version != cursorVersion {
		return CursorState{}, invalidCursor(fmt.Sprintf("cursor version %d is not supported", p.Version))
	}
	if p.SortKey != expectedSortKey {
		return CursorState{}, invalidCursor(fmt.Sprintf("cursor was issued for sort %q, not %q", p.SortKey, expectedSortKey))
	}
	dir, ok := parseDirection(p.Direction)
	if !ok {
		return CursorState{}, invalidCursor("cursor direction is malformed")
	}
	val, err := decodeCursorValue(p.Value)
	if err != nil {
		return CursorState{}, invalidCursor("cursor value is malformed")
	}
	id, err := decodeCursorValue(p.ID)
	if err != nil {
		return CursorState{}, invalidCursor("cursor id is malformed")
	}
	return CursorState{SortKey: p.SortKey, LastValue: val, LastID: id, Direction: dir}, nil
}

func (c *CursorCodec) sign(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func invalidCursor(detail string) *Error {
	return &Error{Kind: KindInvalidCursor, Position: -1, Detail: detail}
}

func encodeCursorValue(v any) (cursorValue, error) {
	var (
		tag string
		raw any
	)
	switch x := v.(type) {
	case nil:
		return cursorValue{Type: "z"}, nil
	case string:
		tag, raw = "s", x
	case []byte:
		tag, raw = "s", string(x)
	case bool:
		tag, raw = "b", x
	case int:
		tag, raw = "i", int64(x)
	case int8:
		tag, raw = "i", int64(x)
	case int16:
		tag, raw = "i", int64(x)
	case int32:
		tag, raw = "i", int64(x)
	case int64:
		tag, raw = "i", x
	case uint:
		if uint64(x) > math.MaxInt64 {
			return cursorValue{}, fmt.Errorf("%d overflows int64", x)
		}
		tag, raw = "i", int64(x)
	case uint8:
		tag, raw = "i", int64(x)
	case uint16:
		tag, raw = "i", int64(x)
	case uint32:
		tag, raw = "i", int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return cursorValue{}, fmt.Errorf("%d overflows int64", x)
		}
		tag, raw = "i", int64(x)
	case float32:
		tag, raw = "f", float64(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return cursorValue{}, fmt.Errorf("%v cannot be encoded", x)
		}
		tag, raw = "f", x
	case time.Time:
		tag, raw = "t", x.UTC().Format(time.RFC3339Nano)
	default:
		return cursorValue{}, fmt.Errorf("unsupported type %T", v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return cursorValue{}, err
	}
	return cursorValue{Type: tag, Value: b}, nil
}

func decodeCursorValue(cv cursorValue) (any, error) {
	switch cv.Type {
	case "z":
		return nil, nil
	case "s":
		var s string
		err := json.Unmarshal(cv.Value, &s)
		return s, err
	case "b":
		var b bool
		err := json.Unmarshal(cv.Value, &b)
		return b, err
	case "i":
		var n json.Number
		if err := json.Unmarshal(cv.Value, &n); err != nil {
			return nil, err
		}
		return strconv.ParseInt(n.String(), 10, 64)
	case "f":
		var f float64
		err := json.Unmarshal(cv.Value, &f)
		return f, err
	case "t":
		var s string
		if err := json.Unmarshal(cv.Value, &s); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	default:
		return nil, fmt.Errorf("unknown value tag %q", cv.Type)
	}
}
