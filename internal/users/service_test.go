package users

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/smarterp/smarterp/internal/auth/token"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/roles"
	"github.com/smarterp/smarterp/internal/shared"
)

type memoryRepo struct {
	users      map[int64]*User
	hashes     map[int64]string
	roles      map[string]roles.Role
	assigned   map[int64]map[int64]string
	audited    map[int64]bool
	nextRoleID int64
}

type memoryTx struct{ repo *memoryRepo }

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:    make(map[int64]*User),
		hashes:   make(map[int64]string),
		roles:    make(map[string]roles.Role),
		assigned: make(map[int64]map[int64]string),
		audited:  make(map[int64]bool),
	}
}

func (r *memoryRepo) addUser(id int64, email string) {
	r.users[id] = &User{ID: id, Email: email, IsActive: true}
}

func (r *memoryRepo) ListUsers(context.Context) ([]User, error) {
	var out []User
	for id := int64(1); id <= 100; id++ {
		if u, ok := r.users[id]; ok {
			out = append(out, r.withRoles(*u))
		}
	}
	return out, nil
}

func (r *memoryRepo) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return r.withRoles(*u), nil
}

func (r *memoryRepo) withRoles(u User) User {
	u.Roles = []string{}
	for _, name := range r.assigned[u.ID] {
		u.Roles = append(u.Roles, name)
	}
	return u
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (t *memoryTx) UserExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.repo.users[id]
	return ok, nil
}

func (t *memoryTx) EnsureRole(_ context.Context, name string) (roles.Role, error) {
	if role, ok := t.repo.roles[name]; ok {
		return role, nil
	}
	t.repo.nextRoleID++
	role := roles.Role{ID: t.repo.nextRoleID, Name: name}
	t.repo.roles[name] = role
	return role, nil
}

func (t *memoryTx) AssignRole(_ context.Context, userID, roleID int64) (bool, error) {
	if t.repo.assigned[userID] == nil {
		t.repo.assigned[userID] = make(map[int64]string)
	}
	if _, ok := t.repo.assigned[userID][roleID]; ok {
		return false, nil
	}
	for name, role := range t.repo.roles {
		if role.ID == roleID {
			t.repo.assigned[userID][roleID] = name
		}
	}
	return true, nil
}

func (t *memoryTx) RemoveRole(_ context.Context, userID, roleID int64) (bool, error) {
	if _, ok := t.repo.assigned[userID][roleID]; !ok {
		return false, nil
	}
	delete(t.repo.assigned[userID], roleID)
	return true, nil
}

func (t *memoryTx) SetActive(_ context.Context, userID int64, active bool) (bool, error) {
	u, ok := t.repo.users[userID]
	if !ok {
		return false, nil
	}
	u.IsActive = active
	return true, nil
}

func (t *memoryTx) CreateUser(_ context.Context, name, email, passwordHash string) (int64, error) {
	var next int64
	for id, u := range t.repo.users {
		if strings.EqualFold(u.Email, email) {
			return 0, fmt.Errorf("%w: email %q is already registered", shared.ErrConflict, email)
		}
		next = max(next, id)
	}
	next++
	t.repo.users[next] = &User{ID: next, Name: name, Email: email, IsActive: true}
	t.repo.hashes[next] = passwordHash
	return next, nil
}

func (t *memoryTx) UpdateUser(_ context.Context, userID int64, changes Changes) (bool, error) {
	u, ok := t.repo.users[userID]
	if !ok {
		return false, nil
	}
	if changes.Email != nil {
		for id, other := range t.repo.users {
			if id != userID && strings.EqualFold(other.Email, *changes.Email) {
				return false, shared.ErrConflict
			}
		}
		u.Email = *changes.Email
	}
	if changes.Name != nil {
		u.Name = *changes.Name
	}
	if changes.PasswordHash != nil {
		t.repo.hashes[userID] = *changes.PasswordHash
	}
	return true, nil
}

func (t *memoryTx) DeleteUser(_ context.Context, userID int64) error {
	if t.repo.audited[userID] {
		return fmt.Errorf("%w: user %d is still referenced by audit entries", shared.ErrConflict, userID)
	}
	if _, ok := t.repo.users[userID]; !ok {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	delete(t.repo.users, userID)
	delete(t.repo.assigned, userID)
	return nil
}

type auditSpy struct{ actions []string }

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func TestAssignRoleCreatesRoleOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(5, "ana@smarterp.local")
	repo.addUser(6, "luis@smarterp.local")
	svc := NewService(repo, nil, nil)

	first, err := svc.AssignRole(context.Background(), 1, 5, "Almacenista")
	require.NoError(t, err)
	second, err := svc.AssignRole(context.Background(), 1, 6, "almacenista ")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.roles, 1)

	_, err = svc.AssignRole(context.Background(), 1, 5, "ALMACENISTA")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.AssignRole(context.Background(), 1, 42, "almacenista")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRemoveRoleAndStatus(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "admin@smarterp.local")
	repo.addUser(5, "ana@smarterp.local")
	svc := NewService(repo, nil, nil)
	role, err := svc.AssignRole(context.Background(), 1, 5, "rrhh")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveRole(context.Background(), 1, 5, role.ID))
	require.ErrorIs(t, svc.RemoveRole(context.Background(), 1, 5, role.ID), shared.ErrNotFound)

	require.NoError(t, svc.SetActive(context.Background(), 1, 5, false))
	require.False(t, repo.users[5].IsActive)
	require.ErrorIs(t, svc.SetActive(context.Background(), 1, 1, false), shared.ErrConflict)
	require.ErrorIs(t, svc.SetActive(context.Background(), 1, 77, true), shared.ErrNotFound)
}

type stubStore map[int64][]string

func (s stubStore) RoleHasPermission(_ context.Context, roleID int64, perm string) (bool, error) {
	for _, p := range s[roleID] {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

func newUsersRouter(t *testing.T, repo *memoryRepo, store rbac.PermissionStore) (http.Handler, *token.Manager) {
	t.Helper()
	mgr := token.NewManager("abcdefghijklmnopqrstuvwxyz123456", time.Hour)
	mw := rbac.Middleware{Verifier: mgr, Resolver: rbac.NewResolver(store)}
	svc := NewService(repo, nil, nil)
	svc.cost = bcrypt.MinCost
	h := NewHandler(nil, svc, mw)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Route("/users", h.MountRoutes)
	})
	return r, mgr
}

func signed(t *testing.T, mgr *token.Manager, id rbac.Identity) string {
	t.Helper()
	raw, _, err := mgr.Sign(id.Claims())
	require.NoError(t, err)
	return raw
}

func request(h http.Handler, method, path, body, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestUserRoutes(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "admin@smarterp.local")
	repo.addUser(5, "ana@smarterp.local")
	repo.addUser(6, "luis@smarterp.local")
	h, mgr := newUsersRouter(t, repo, stubStore{9: {"ver_usuarios"}})

	admin := signed(t, mgr, rbac.NewIdentity(1, "", []string{"admin"}, nil, []string{"ver_usuarios"}))
	ana := signed(t, mgr, rbac.NewIdentity(5, "", []string{"vendedor"}, nil, []string{"ver_clientes"}))
	legacyAuditor := signed(t, mgr, rbac.NewIdentity(6, "", []string{"auditor"}, []int64{9}, nil))

	require.Equal(t, http.StatusOK, request(h, http.MethodGet, "/users", "", admin).Code)
	require.Equal(t, http.StatusForbidden, request(h, http.MethodGet, "/users", "", ana).Code)
	require.Equal(t, http.StatusOK, request(h, http.MethodGet, "/users", "", legacyAuditor).Code)

	require.Equal(t, http.StatusOK, request(h, http.MethodGet, "/users/5", "", ana).Code)
	require.Equal(t, http.StatusForbidden, request(h, http.MethodGet, "/users/6", "", ana).Code)
	require.Equal(t, http.StatusBadRequest, request(h, http.MethodGet, "/users/0", "", admin).Code)

	res := request(h, http.MethodPost, "/users/5/roles", `{"role":"Vendedor"}`, admin)
	require.Equal(t, http.StatusCreated, res.Code)
	var role roles.Role
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &role))
	require.Equal(t, "vendedor", role.Name)
	require.Equal(t, http.StatusConflict, request(h, http.MethodPost, "/users/5/roles", `{"role":"vendedor"}`, admin).Code)
	require.Equal(t, http.StatusForbidden, request(h, http.MethodPost, "/users/5/roles", `{"role":"admin"}`, ana).Code)
	require.Equal(t, http.StatusBadRequest, request(h, http.MethodPost, "/users/5/roles", `{"role":""}`, admin).Code)

	require.Equal(t, http.StatusNoContent, request(h, http.MethodPut, "/users/6/active", `{"active":false}`, admin).Code)
	require.False(t, repo.users[6].IsActive)
	require.Equal(t, http.StatusBadRequest, request(h, http.MethodPut, "/users/6/active", `{}`, admin).Code)
}

func TestCreateUserHashesAndGrantsRole(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "admin@smarterp.local")
	audit := &auditSpy{}
	svc := NewService(repo, audit, nil)
	svc.cost = bcrypt.MinCost
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, 1, CreateInput{Name: " Marta ", Email: " Marta@SmartERP.local ", Password: "s3cretpass", Role: "RRHH"})
	require.NoError(t, err)
	require.Equal(t, "marta@smarterp.local", user.Email)
	require.Equal(t, "Marta", user.Name)
	require.True(t, user.IsActive)
	require.Equal(t, []string{"rrhh"}, user.Roles)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[user.ID]), []byte("s3cretpass")))
	require.Equal(t, []string{shared.AuditUserCreated}, audit.actions)

	plain, err := svc.CreateUser(ctx, 1, CreateInput{Name: "Pablo", Email: "pablo@smarterp.local", Password: "s3cretpass"})
	require.NoError(t, err)
	require.Empty(t, plain.Roles)
	require.Len(t, repo.roles, 1)

	_, err = svc.CreateUser(ctx, 1, CreateInput{Name: "Otra", Email: "MARTA@smarterp.local", Password: "s3cretpass"})
	require.ErrorIs(t, err, shared.ErrConflict)
	for _, in := range []CreateInput{
		{Name: "", Email: "x@smarterp.local", Password: "s3cretpass"},
		{Name: "X", Email: "not-an-email", Password: "s3cretpass"},
		{Name: "X", Email: "x@smarterp.local", Password: "short"},
	} {
		_, err = svc.CreateUser(ctx, 1, in)
		require.ErrorIs(t, err, shared.ErrValidation, "input=%+v", in)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(5, "ana@smarterp.local")
	repo.addUser(6, "luis@smarterp.local")
	svc := NewService(repo, nil, nil)
	svc.cost = bcrypt.MinCost
	ctx := context.Background()

	name, email, password := "Ana María", " ANA.M@smarterp.local", "otra-clave-segura"
	user, err := svc.UpdateUser(ctx, 5, 5, UpdateInput{Name: &name, Email: &email, Password: &password})
	require.NoError(t, err)
	require.Equal(t, "Ana María", user.Name)
	require.Equal(t, "ana.m@smarterp.local", user.Email)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[5]), []byte(password)))

	_, err = svc.UpdateUser(ctx, 5, 5, UpdateInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
	empty := ""
	_, err = svc.UpdateUser(ctx, 5, 5, UpdateInput{Password: &empty})
	require.ErrorIs(t, err, shared.ErrValidation)
	taken := "luis@smarterp.local"
	_, err = svc.UpdateUser(ctx, 5, 5, UpdateInput{Email: &taken})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.UpdateUser(ctx, 1, 77, UpdateInput{Name: &name})
	require.ErrorIs(t, err, shared.ErrNotFound)

	repo.audited[6] = true
	require.ErrorIs(t, svc.DeleteUser(ctx, 1, 6), shared.ErrConflict)
	require.Contains(t, repo.users, int64(6))
	require.NoError(t, svc.DeleteUser(ctx, 5, 5))
	require.NotContains(t, repo.users, int64(5))
	require.ErrorIs(t, svc.DeleteUser(ctx, 1, 5), shared.ErrNotFound)
	require.ErrorIs(t, svc.DeleteUser(ctx, 1, 0), shared.ErrValidation)
}

func TestUserProfileRoutesAreSelfOrAdmin(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "admin@smarterp.local")
	repo.addUser(5, "ana@smarterp.local")
	repo.addUser(6, "luis@smarterp.local")
	h, mgr := newUsersRouter(t, repo, stubStore{})

	admin := signed(t, mgr, rbac.NewIdentity(1, "", []string{"admin"}, nil, nil))
	ana := signed(t, mgr, rbac.NewIdentity(5, "", []string{"vendedor"}, nil, []string{"ver_clientes"}))
	luis := signed(t, mgr, rbac.NewIdentity(6, "", []string{"almacenista"}, nil, nil))

	res := request(h, http.MethodPost, "/users", `{"name":"Marta","email":"marta@smarterp.local","password":"s3cretpass","role":"rrhh"}`, admin)
	require.Equal(t, http.StatusCreated, res.Code)
	var created User
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	require.Equal(t, []string{"rrhh"}, created.Roles)
	require.NotContains(t, res.Body.String(), "password")
	require.Equal(t, http.StatusConflict, request(h, http.MethodPost, "/users", `{"name":"M","email":"MARTA@smarterp.local","password":"s3cretpass"}`, admin).Code)
	require.Equal(t, http.StatusForbidden, request(h, http.MethodPost, "/users", `{"name":"M","email":"m2@smarterp.local","password":"s3cretpass"}`, ana).Code)
	require.Equal(t, http.StatusBadRequest, request(h, http.MethodPost, "/users", `{"name":"M","email":"bad","password":"s3cretpass"}`, admin).Code)

	require.Equal(t, http.StatusOK, request(h, http.MethodPut, "/users/5", `{"name":"Ana María"}`, ana).Code)
	require.Equal(t, "Ana María", repo.users[5].Name)
	require.Equal(t, http.StatusForbidden, request(h, http.MethodPut, "/users/6", `{"name":"Otro"}`, ana).Code)
	require.Equal(t, "", repo.users[6].Name)
	require.Equal(t, http.StatusOK, request(h, http.MethodPut, "/users/6", `{"password":"nueva-clave-1"}`, admin).Code)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[6]), []byte("nueva-clave-1")))
	require.Equal(t, http.StatusBadRequest, request(h, http.MethodPut, "/users/5", `{"active":false}`, ana).Code)
	require.Equal(t, http.StatusBadRequest, request(h, http.MethodPut, "/users/5", `{}`, ana).Code)

	require.Equal(t, http.StatusForbidden, request(h, http.MethodDelete, "/users/5", "", luis).Code)
	require.Contains(t, repo.users, int64(5))
	require.Equal(t, http.StatusNoContent, request(h, http.MethodDelete, "/users/6", "", luis).Code)
	require.NotContains(t, repo.users, int64(6))
	repo.audited[created.ID] = true
	require.Equal(t, http.StatusConflict, request(h, http.MethodDelete, fmt.Sprintf("/users/%d", created.ID), "", admin).Code)
	require.Equal(t, http.StatusNoContent, request(h, http.MethodDelete, "/users/5", "", admin).Code)
	require.Equal(t, http.StatusNotFound, request(h, http.MethodDelete, "/users/5", "", admin).Code)
}
