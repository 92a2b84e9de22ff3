package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smarterp/smarterp/internal/shared"
)

type memoryState struct {
	perms    map[int64]Permission
	roles    map[int64]string
	mappings map[int64]map[int64]time.Time
	nextID   int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		perms:    make(map[int64]Permission, len(s.perms)),
		roles:    make(map[int64]string, len(s.roles)),
		mappings: make(map[int64]map[int64]time.Time, len(s.mappings)),
		nextID:   s.nextID,
	}
	for k, v := range s.perms {
		out.perms[k] = v
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for role, set := range s.mappings {
		cp := make(map[int64]time.Time, len(set))
		for id, at := range set {
			cp[id] = at
		}
		out.mappings[role] = cp
	}
	return out
}

// memoryRepo applies transactional writes to a copy and swaps it in on commit.
type memoryRepo struct {
	state       *memoryState
	clock       time.Time
	assignCalls int
	failAssignN int
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		perms:    make(map[int64]Permission),
		roles:    make(map[int64]string),
		mappings: make(map[int64]map[int64]time.Time),
	}}
}

// now advances a fake clock by one second per call.
func (r *memoryRepo) now() time.Time {
	if r.clock.IsZero() {
		r.clock = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	}
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *memoryRepo) seedRole(id int64, name string) { r.state.roles[id] = name }

func (r *memoryRepo) seedPermission(name string) int64 {
	r.state.nextID++
	r.state.perms[r.state.nextID] = Permission{ID: r.state.nextID, Name: name}
	return r.state.nextID
}

func (r *memoryRepo) seedMapping(roleID, permID int64) {
	if r.state.mappings[roleID] == nil {
		r.state.mappings[roleID] = make(map[int64]time.Time)
	}
	r.state.mappings[roleID][permID] = r.now()
}

func (r *memoryRepo) mapped(roleID int64) []int64 {
	var ids []int64
	for id := range r.state.mappings[roleID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) reader() *memoryTx { return &memoryTx{repo: r, state: r.state} }

func (r *memoryRepo) List(ctx context.Context) ([]Permission, error) { return r.reader().List(ctx) }
func (r *memoryRepo) ListWithRoles(ctx context.Context) ([]PermissionWithRoles, error) {
	return r.reader().ListWithRoles(ctx)
}
func (r *memoryRepo) ListByRole(ctx context.Context, roleID int64) ([]RolePermission, error) {
	return r.reader().ListByRole(ctx, roleID)
}
func (r *memoryRepo) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	return r.reader().RoleExists(ctx, roleID)
}
func (r *memoryRepo) PermissionExists(ctx context.Context, id int64) (bool, error) {
	return r.reader().PermissionExists(ctx, id)
}

func (t *memoryTx) List(context.Context) ([]Permission, error) {
	var out []Permission
	for _, p := range t.state.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memoryTx) ListWithRoles(ctx context.Context) ([]PermissionWithRoles, error) {
	perms, _ := t.List(ctx)
	out := make([]PermissionWithRoles, 0, len(perms))
	for _, p := range perms {
		roles := []string{}
		for roleID, set := range t.state.mappings {
			if _, ok := set[p.ID]; ok {
				roles = append(roles, t.state.roles[roleID])
			}
		}
		sort.Strings(roles)
		out = append(out, PermissionWithRoles{Permission: p, Roles: roles})
	}
	return out, nil
}

func (t *memoryTx) ListByRole(_ context.Context, roleID int64) ([]RolePermission, error) {
	var out []RolePermission
	for id, at := range t.state.mappings[roleID] {
		out = append(out, RolePermission{Permission: t.state.perms[id], RoleID: roleID, AssignedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memoryTx) RoleExists(_ context.Context, roleID int64) (bool, error) {
	_, ok := t.state.roles[roleID]
	return ok, nil
}

func (t *memoryTx) PermissionExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.state.perms[id]
	return ok, nil
}

func (t *memoryTx) Create(_ context.Context, name, description string) (Permission, error) {
	for _, p := range t.state.perms {
		if p.Name == name {
			return Permission{}, fmt.Errorf("%w: permission %q already exists", shared.ErrConflict, name)
		}
	}
	t.state.nextID++
	p := Permission{ID: t.state.nextID, Name: name, Description: description}
	t.state.perms[p.ID] = p
	return p, nil
}

func (t *memoryTx) Update(_ context.Context, id int64, name, description string) (Permission, error) {
	p, ok := t.state.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	p.Name, p.Description = name, description
	t.state.perms[id] = p
	return p, nil
}

func (t *memoryTx) Delete(_ context.Context, id int64) error {
	for _, set := range t.state.mappings {
		if _, ok := set[id]; ok {
			return fmt.Errorf("%w: permission %d is still referenced", shared.ErrConflict, id)
		}
	}
	if _, ok := t.state.perms[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.state.perms, id)
	return nil
}

func (t *memoryTx) Assign(_ context.Context, roleID, permissionID int64) (bool, error) {
	t.repo.assignCalls++
	if t.repo.failAssignN > 0 && t.repo.assignCalls == t.repo.failAssignN {
		return false, errors.New("connection reset")
	}
	if _, ok := t.state.perms[permissionID]; !ok {
		return false, shared.ErrNotFound
	}
	if t.state.mappings[roleID] == nil {
		t.state.mappings[roleID] = make(map[int64]time.Time)
	}
	if _, ok := t.state.mappings[roleID][permissionID]; ok {
		return false, nil
	}
	t.state.mappings[roleID][permissionID] = t.repo.now()
	return true, nil
}

func (t *memoryTx) Remove(_ context.Context, roleID, permissionID int64) (bool, error) {
	if _, ok := t.state.mappings[roleID][permissionID]; !ok {
		return false, nil
	}
	delete(t.state.mappings[roleID], permissionID)
	return true, nil
}

func (t *memoryTx) ClearRole(_ context.Context, roleID int64) error {
	delete(t.state.mappings, roleID)
	return nil
}

type auditSpy struct {
	entries []shared.AuditLog
	err     error
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func TestCreateCanonicalisesAndAudits(t *testing.T) {
	repo := newMemoryRepo()
	audit := &auditSpy{}
	svc := NewService(repo, audit, nil)

	p, err := svc.Create(context.Background(), 1, Input{Name: "  Ver_Reportes ", Description: "reports"})
	require.NoError(t, err)
	require.Equal(t, "ver_reportes", p.Name)
	require.Len(t, audit.entries, 1)
	require.Equal(t, shared.AuditPermissionCreated, audit.entries[0].Action)
	require.Equal(t, int64(1), audit.entries[0].ActorID)

	_, err = svc.Create(context.Background(), 1, Input{Name: "VER_REPORTES"})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Create(context.Background(), 1, Input{Name: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAssignDuplicateIsReportedNoOp(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(2, "vendedor")
	perm := repo.seedPermission("ver_clientes")
	audit := &auditSpy{}
	svc := NewService(repo, audit, nil)

	require.NoError(t, svc.Assign(context.Background(), 1, 2, perm))
	err := svc.Assign(context.Background(), 1, 2, perm)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, []int64{perm}, repo.mapped(2))
	require.Len(t, audit.entries, 1)
}

func TestAssignUnknownRoleOrPermission(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(2, "vendedor")
	perm := repo.seedPermission("ver_clientes")
	svc := NewService(repo, nil, nil)

	require.ErrorIs(t, svc.Assign(context.Background(), 1, 9, perm), shared.ErrNotFound)
	require.ErrorIs(t, svc.Assign(context.Background(), 1, 2, 99), shared.ErrNotFound)
	require.ErrorIs(t, svc.Assign(context.Background(), 1, 0, perm), shared.ErrValidation)
}

func TestRemoveMissingMapping(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(2, "vendedor")
	perm := repo.seedPermission("ver_clientes")
	repo.seedMapping(2, perm)
	svc := NewService(repo, nil, nil)

	require.NoError(t, svc.Remove(context.Background(), 1, 2, perm))
	require.Empty(t, repo.mapped(2))
	require.ErrorIs(t, svc.Remove(context.Background(), 1, 2, perm), shared.ErrNotFound)
}

func TestDeleteMappedPermissionConflicts(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(3, "almacenista")
	perm := repo.seedPermission("gestionar_inventario")
	repo.seedMapping(3, perm)
	svc := NewService(repo, nil, nil)

	err := svc.Delete(context.Background(), 1, perm)
	require.ErrorIs(t, err, shared.ErrConflict)
	ok, _ := repo.PermissionExists(context.Background(), perm)
	require.True(t, ok)

	require.NoError(t, svc.Remove(context.Background(), 1, 3, perm))
	require.NoError(t, svc.Delete(context.Background(), 1, perm))
	ok, _ = repo.PermissionExists(context.Background(), perm)
	require.False(t, ok)
}

func TestReplaceIsAtomic(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(4, "rrhh")
	a := repo.seedPermission("ver_empleados")
	b := repo.seedPermission("gestionar_empleados")
	c := repo.seedPermission("ver_usuarios")
	d := repo.seedPermission("ver_clientes")
	repo.seedMapping(4, d)
	repo.failAssignN = 2
	svc := NewService(repo, nil, nil)

	_, err := svc.Replace(context.Background(), 1, 4, []int64{a, b, c})
	require.Error(t, err)
	require.Equal(t, []int64{d}, repo.mapped(4))
}

func TestReplaceSetsExactMapping(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(4, "rrhh")
	a := repo.seedPermission("ver_empleados")
	b := repo.seedPermission("gestionar_empleados")
	d := repo.seedPermission("ver_clientes")
	repo.seedMapping(4, d)
	audit := &auditSpy{err: errors.New("queue offline")}
	svc := NewService(repo, audit, nil)

	perms, err := svc.Replace(context.Background(), 1, 4, []int64{b, a, a})
	require.NoError(t, err)
	require.Len(t, perms, 2)
	require.Equal(t, []int64{a, b}, repo.mapped(4))
	require.Len(t, audit.entries, 1)

	perms, err = svc.Replace(context.Background(), 1, 4, []int64{})
	require.NoError(t, err)
	require.Empty(t, perms)
	require.Empty(t, repo.mapped(4))
}

func TestReplaceValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(4, "rrhh")
	svc := NewService(repo, nil, nil)

	_, err := svc.Replace(context.Background(), 1, 4, []int64{1, -2})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Replace(context.Background(), 1, 77, []int64{})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Replace(context.Background(), 1, 4, []int64{55})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListWithRoles(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(1, "admin")
	repo.seedRole(2, "vendedor")
	perm := repo.seedPermission("ver_clientes")
	repo.seedPermission("ver_usuarios")
	repo.seedMapping(1, perm)
	repo.seedMapping(2, perm)
	svc := NewService(repo, nil, nil)

	list, err := svc.ListWithRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "ver_clientes", list[0].Name)
	require.Equal(t, []string{"admin", "vendedor"}, list[0].Roles)
	require.Empty(t, list[1].Roles)

	_, err = svc.ListByRole(context.Background(), 9)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRoleMappingsCarryAssignmentTime(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedRole(2, "vendedor")
	clients := repo.seedPermission("ver_clientes")
	stock := repo.seedPermission("ver_inventario")
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.Assign(ctx, 1, 2, clients))
	listed, err := svc.ListByRole(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, int64(2), listed[0].RoleID)
	require.False(t, listed[0].AssignedAt.IsZero())
	assignedAt := listed[0].AssignedAt

	replaced, err := svc.Replace(ctx, 1, 2, []int64{clients, stock})
	require.NoError(t, err)
	require.Len(t, replaced, 2)
	for _, rp := range replaced {
		require.Equal(t, int64(2), rp.RoleID)
		require.True(t, rp.AssignedAt.After(assignedAt), "mapping %s keeps a stale assignment time", rp.Name)
	}
}
