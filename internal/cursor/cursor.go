// Package cursor implements the base64("<updated_at_ms>|<uuid>") pagination
// token shared by every list endpoint that orders by (updated_at, id).
package cursor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor marks a position in an (updated_at_ms, uuid)-ordered stream.
type Cursor struct {
	Ms  int64
	UID uuid.UUID
}

// Encode returns a base64 token, or "" for the zero-value cursor (first page).
func Encode(c Cursor) string {
	if c.Ms == 0 && c.UID == uuid.Nil {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.Ms, c.UID.String())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor token, returning ok=false for an empty or malformed one.
func Decode(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}
	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 {
		return Cursor{}, false
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Cursor{}, false
	}
	return Cursor{Ms: ms, UID: id}, true
}

// FromTime converts a timestamp + id into a Cursor.
func FromTime(t time.Time, id uuid.UUID) Cursor {
	return Cursor{Ms: t.UTC().UnixMilli(), UID: id}
}
