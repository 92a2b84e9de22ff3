package token

import (
	"fmt"
	"strings"

	"github.com/smarterp/smarterp/internal/shared"
)

// BearerScheme is the only accepted Authorization scheme.
const BearerScheme = "Bearer"

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// value. The scheme is case-sensitive and separated from the token by
// exactly one space.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", shared.ErrUnauthenticated
	}
	scheme, tok, found := strings.Cut(header, " ")
	if !found || scheme != BearerScheme || tok == "" || strings.ContainsAny(tok, " \t\r\n") {
		return "", fmt.Errorf("%w: malformed authorization header", shared.ErrUnauthenticated)
	}
	return tok, nil
}
