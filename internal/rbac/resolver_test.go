package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smarterp/smarterp/internal/shared"
)

type fakeStore struct {
	mu       sync.Mutex
	grants   map[int64][]string
	calls    atomic.Int64
	err      error
	failRole int64
}

func newFakeStore(grants map[int64][]string) *fakeStore {
	return &fakeStore{grants: grants}
}

func (s *fakeStore) RoleHasPermission(_ context.Context, roleID int64, permission string) (bool, error) {
	s.calls.Add(1)
	if s.err != nil && (s.failRole == 0 || s.failRole == roleID) {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.grants[roleID] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

func TestHasPermissionUsesEmbeddedPermissions(t *testing.T) {
	store := newFakeStore(nil)
	r := NewResolver(store)
	id := NewIdentity(1, "", nil, []int64{2}, []string{"ver_inventario"})

	ok, err := r.HasPermission(context.Background(), id, "VER_INVENTARIO")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.HasPermission(context.Background(), id, "gestionar_inventario")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, store.calls.Load())
}

func TestHasPermissionFallsBackToRoles(t *testing.T) {
	store := newFakeStore(map[int64][]string{3: {"ver_inventario"}})
	r := NewResolver(store)
	legacy := NewIdentity(12, "", []string{"almacenista"}, []int64{1, 3}, nil)

	ok, err := r.HasPermission(context.Background(), legacy, "ver_inventario")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.HasPermission(context.Background(), legacy, "gestionar_inventario")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermissionNoRolesDenies(t *testing.T) {
	store := newFakeStore(nil)
	r := NewResolver(store)

	ok, err := r.HasPermission(context.Background(), NewIdentity(4, "", nil, nil, nil), "ver_clientes")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, store.calls.Load())
}

func TestHasPermissionRejectsEmptyName(t *testing.T) {
	r := NewResolver(newFakeStore(nil))
	_, err := r.HasPermission(context.Background(), NewIdentity(1, "", nil, nil, nil), "  ")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStoreFailureIsNotADenial(t *testing.T) {
	store := newFakeStore(nil)
	store.err = errors.New("connection refused")
	r := NewResolver(store)
	legacy := NewIdentity(12, "", nil, []int64{3}, nil)

	ok, err := r.HasPermission(context.Background(), legacy, "ver_inventario")
	require.False(t, ok)
	require.ErrorIs(t, err, shared.ErrPermissionCheckFailed)
	require.NotErrorIs(t, err, shared.ErrAccessDenied)

	err = r.RequirePermission(context.Background(), legacy, "ver_inventario")
	require.ErrorIs(t, err, shared.ErrPermissionCheckFailed)
}

func TestNilStoreFailsCheck(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.HasPermission(context.Background(), NewIdentity(1, "", nil, []int64{1}, nil), "ver_usuarios")
	require.ErrorIs(t, err, shared.ErrPermissionCheckFailed)
}

func TestHasAnyAndHasAll(t *testing.T) {
	r := NewResolver(newFakeStore(nil))
	id := NewIdentity(1, "", nil, nil, []string{"ver_clientes", "gestionar_clientes"})
	ctx := context.Background()

	ok, err := r.HasAny(ctx, id, "ver_proveedores", "ver_clientes")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.HasAny(ctx, id, "ver_proveedores")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.HasAll(ctx, id, "ver_clientes", "GESTIONAR_CLIENTES")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.HasAll(ctx, id, "ver_clientes", "ver_proveedores")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.HasAny(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRequireAllNamesFirstMissing(t *testing.T) {
	r := NewResolver(newFakeStore(nil))
	id := NewIdentity(1, "", nil, nil, []string{"ver_empleados"})

	err := r.RequireAll(context.Background(), id, "ver_empleados", "gestionar_empleados", "ver_usuarios")
	var denied *shared.AccessDeniedError
	require.True(t, errors.As(err, &denied))
	require.Equal(t, "gestionar_empleados", denied.Name)
}

func TestRequireAnyFallbackAcrossRoles(t *testing.T) {
	store := newFakeStore(map[int64][]string{8: {"ver_proveedores"}})
	r := NewResolver(store)
	id := NewIdentity(3, "", nil, []int64{8}, nil)

	require.NoError(t, r.RequireAny(context.Background(), id, "gestionar_proveedores", "ver_proveedores"))
	require.ErrorIs(t, r.RequireAny(context.Background(), id, "ver_usuarios"), shared.ErrAccessDenied)
}

func TestConcurrentFallbackLookups(t *testing.T) {
	store := newFakeStore(map[int64][]string{1: {"ver_inventario"}})
	r := NewResolver(store)
	id := NewIdentity(2, "", nil, []int64{1}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.HasPermission(context.Background(), id, "ver_inventario")
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- fmt.Errorf("lookup denied")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, store.calls.Load(), int64(32))
}

func TestCancelledContextStopsFallback(t *testing.T) {
	store := newFakeStore(map[int64][]string{1: {"ver_inventario"}})
	r := NewResolver(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.HasPermission(ctx, NewIdentity(2, "", nil, []int64{1}, nil), "ver_inventario")
	require.ErrorIs(t, err, context.Canceled)
}
