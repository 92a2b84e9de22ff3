package token

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the fixed-shape payload carried by a session token. Arrays are
// optional on the wire and a wrongly shaped array never fails verification.
// RoleIDs stay raw; coercion happens during normalization.
type Claims struct {
	jwt.RegisteredClaims
	UserID      int64      `json:"id"`
	Email       string     `json:"email"`
	Roles       StringList `json:"roles,omitempty"`
	RoleIDs     RawList    `json:"roleIds,omitempty"`
	Permissions StringList `json:"permissions,omitempty"`
}

// StringList decodes an array of strings or a single string. Any other
// shape decodes to an empty list.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	*l = nil
	return nil
}

// RawList decodes an array as its raw entries and any other non-null value
// as a single entry.
type RawList []json.RawMessage

// UnmarshalJSON implements json.Unmarshaler.
func (l *RawList) UnmarshalJSON(data []byte) error {
	var many []json.RawMessage
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	*l = RawList{append(json.RawMessage(nil), trimmed...)}
	return nil
}

// RawIDs encodes integer ids for the RoleIDs claim.
func RawIDs(ids []int64) RawList {
	if len(ids) == 0 {
		return nil
	}
	out := make(RawList, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(strconv.FormatInt(id, 10)))
	}
	return out
}

// subjectID resolves the caller id from the id claim, falling back to sub.
func (c *Claims) subjectID() int64 {
	if c.UserID > 0 {
		return c.UserID
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
