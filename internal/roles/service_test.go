package roles

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

type memoryStore struct {
	roles       []rbac.Role
	permissions []rbac.Permission
	grants      map[int64][]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		permissions: []rbac.Permission{
			{ID: 1, Name: shared.PermInvoiceView},
			{ID: 2, Name: shared.PermInvoiceCreate},
		},
		grants: make(map[int64][]int64),
	}
}

func (m *memoryStore) ListRoles(context.Context) ([]rbac.Role, error) { return m.roles, nil }

func (m *memoryStore) CreateRole(_ context.Context, name, description string) (rbac.Role, error) {
	if name == "" {
		return rbac.Role{}, rbac.ErrNameRequired
	}
	role := rbac.Role{ID: int64(len(m.roles) + 1), Name: name, Description: description}
	m.roles = append(m.roles, role)
	return role, nil
}

func (m *memoryStore) ListPermissions(context.Context) ([]rbac.Permission, error) {
	return m.permissions, nil
}

func (m *memoryStore) EnsurePermission(_ context.Context, name, description string) (rbac.Permission, error) {
	for _, p := range m.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	p := rbac.Permission{ID: int64(len(m.permissions) + 1), Name: name, Description: description}
	m.permissions = append(m.permissions, p)
	return p, nil
}

func (m *memoryStore) SetRolePermissions(_ context.Context, roleID int64, ids []int64) error {
	if roleID > int64(len(m.roles)) {
		return rbac.ErrNotFound
	}
	m.grants[roleID] = ids
	return nil
}

type auditSpy struct{ logs []shared.AuditLog }

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestSyncCatalogue(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil)

	n, err := svc.SyncCatalogue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(shared.AllScopes()), n)
	assert.Len(t, store.permissions, len(shared.AllScopes()))
}

func TestCreateRoleNormalisesName(t *testing.T) {
	audit := &auditSpy{}
	svc := NewService(newMemoryStore(), audit, nil)

	role, err := svc.CreateRole(context.Background(), "1", "  Clerk ", "issues invoices")
	require.NoError(t, err)
	assert.Equal(t, "clerk", role.Name)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "role.create", audit.logs[0].Action)

	_, err = svc.CreateRole(context.Background(), "1", "  ", "")
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestSetPermissionsByName(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil)
	_, err := svc.CreateRole(context.Background(), "1", "clerk", "")
	require.NoError(t, err)

	granted, err := svc.SetPermissions(context.Background(), "1", 1,
		[]string{"SALES.INVOICE.CREATE", shared.PermInvoiceView, shared.PermInvoiceView, ""})
	require.NoError(t, err)
	assert.Equal(t, []string{shared.PermInvoiceCreate, shared.PermInvoiceView}, granted)
	assert.ElementsMatch(t, []int64{1, 2}, store.grants[1])
}

func TestSetPermissionsRejectsUnknown(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil)
	_, err := svc.CreateRole(context.Background(), "1", "clerk", "")
	require.NoError(t, err)

	_, err = svc.SetPermissions(context.Background(), "1", 1, []string{"finance.gl.view"})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.Empty(t, store.grants)

	_, err = svc.SetPermissions(context.Background(), "1", 9, nil)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

type grantAll []string

func (g grantAll) EffectivePermissions(context.Context, int64) ([]string, error) { return g, nil }

func newTestRouter(t *testing.T, store *memoryStore, perms ...string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, NewService(store, nil, logger), rbac.Middleware{Service: grantAll(perms), Logger: logger})
	sessions := shared.NewSessionManager(nil, "odyssey_session", time.Hour, false)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			sess.Login("1", time.Now())
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/roles", h.MountRoutes)
	return r
}

func TestHandlerCreateAndGrant(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(t, store, shared.PermRolesEdit)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/roles/", strings.NewReader(`{"name":"clerk"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/roles/1/permissions",
		strings.NewReader(`{"permissions":["sales.invoice.view"]}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"role_id":1,"permissions":["sales.invoice.view"]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/roles/1/permissions",
		strings.NewReader(`{"permissions":["nope"]}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerRequiresEditPermission(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(), shared.PermRolesView)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/roles/", strings.NewReader(`{"name":"x"}`)))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
