package rbac

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/smarterp/smarterp/internal/auth/token"
)

// Normalize converts verified claims into an Identity. It never fails:
// missing fields become empty sets and malformed role ids are dropped.
func Normalize(claims *token.Claims) Identity {
	if claims == nil {
		return NewIdentity(0, "", nil, nil, nil)
	}
	roleIDs := make([]int64, 0, len(claims.RoleIDs))
	for _, raw := range claims.RoleIDs {
		if id, ok := coerceID(raw); ok {
			roleIDs = append(roleIDs, id)
		}
	}
	return NewIdentity(claims.UserID, claims.Email, claims.Roles, roleIDs, claims.Permissions)
}

// coerceID accepts JSON integers and numeric strings.
func coerceID(raw json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	var text string
	switch x := v.(type) {
	case json.Number:
		text = x.String()
	case string:
		text = strings.TrimSpace(x)
	default:
		return 0, false
	}
	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		return id, id > 0
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || f <= 0 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
