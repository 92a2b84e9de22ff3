package rbac

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/smarterp/smarterp/internal/auth/token"
)

// Canonical trims and lower-cases a role or permission name.
func Canonical(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return cases.Lower(language.Und).String(name)
}

// StringSet is a set of canonical names.
type StringSet map[string]struct{}

// NewStringSet canonicalises values, dropping empties and duplicates.
func NewStringSet(values ...string) StringSet {
	set := make(StringSet, len(values))
	for _, v := range values {
		if c := Canonical(v); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// Has reports membership of the canonical form of v.
func (s StringSet) Has(v string) bool {
	_, ok := s[Canonical(v)]
	return ok
}

// Sorted returns the members in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// IDSet is a set of positive integer ids.
type IDSet map[int64]struct{}

// NewIDSet drops non-positive ids and duplicates.
func NewIDSet(ids ...int64) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		if id > 0 {
			set[id] = struct{}{}
		}
	}
	return set
}

// Has reports membership.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Identity is the canonical, normalized view of an authenticated caller.
type Identity struct {
	ID          int64
	Email       string
	Roles       StringSet
	RoleIDs     IDSet
	Permissions StringSet
}

// NewIdentity builds an Identity with canonical sets.
func NewIdentity(id int64, email string, roles []string, roleIDs []int64, permissions []string) Identity {
	return Identity{
		ID:          id,
		Email:       strings.TrimSpace(email),
		Roles:       NewStringSet(roles...),
		RoleIDs:     NewIDSet(roleIDs...),
		Permissions: NewStringSet(permissions...),
	}
}

// Claims projects the identity onto the token payload.
func (i Identity) Claims() token.Claims {
	return token.Claims{
		UserID:      i.ID,
		Email:       i.Email,
		Roles:       i.Roles.Sorted(),
		RoleIDs:     token.RawIDs(i.RoleIDs.Sorted()),
		Permissions: i.Permissions.Sorted(),
	}
}

// View is the JSON representation of an Identity.
type View struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	RoleIDs     []int64  `json:"role_ids"`
	Permissions []string `json:"permissions"`
}

// View returns a stable, sorted representation.
func (i Identity) View() View {
	return View{
		ID:          i.ID,
		Email:       i.Email,
		Roles:       i.Roles.Sorted(),
		RoleIDs:     i.RoleIDs.Sorted(),
		Permissions: i.Permissions.Sorted(),
	}
}
