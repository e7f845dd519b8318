package timeline

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a keyset boundary: a page fetched with it holds only rows
// strictly older than (At, ID) under the created_at DESC, id DESC order.
type Cursor struct {
	At time.Time
	ID string
}

// Before reports whether (at, id) sorts strictly after the cursor, i.e. is
// older than it.
func (c Cursor) Before(at time.Time, id string) bool {
	if at.Before(c.At) {
		return true
	}
	return at.Equal(c.At) && id < c.ID
}

// Encode 生成对外透明的游标字符串
func (c Cursor) Encode() string {
	raw := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{At: t, ID: id}, nil
}
