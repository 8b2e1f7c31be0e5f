package users

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
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

type memoryRepo struct {
	users  []User
	hashes map[int64]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{hashes: make(map[int64]string)}
}

func (m *memoryRepo) ListUsers(context.Context) ([]User, error) { return m.users, nil }

func (m *memoryRepo) CreateUser(_ context.Context, email, name, hash string) (User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return User{}, ErrDuplicateEmail
		}
	}
	u := User{ID: int64(len(m.users) + 1), Email: strings.ToLower(email), Name: name, IsActive: true}
	m.users = append(m.users, u)
	m.hashes[u.ID] = hash
	return u, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].IsActive = active
			return nil
		}
	}
	return ErrNotFound
}

type roleSpy struct {
	assigned map[[2]int64]bool
}

func (r *roleSpy) AssignRole(_ context.Context, userID, roleID int64) error {
	if roleID > 10 {
		return rbac.ErrNotFound
	}
	r.assigned[[2]int64{userID, roleID}] = true
	return nil
}

func (r *roleSpy) RemoveRole(_ context.Context, userID, roleID int64) error {
	delete(r.assigned, [2]int64{userID, roleID})
	return nil
}

type auditSpy struct{ actions []string }

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService() (*Service, *memoryRepo, *roleSpy, *auditSpy) {
	repo := newMemoryRepo()
	roles := &roleSpy{assigned: make(map[[2]int64]bool)}
	audit := &auditSpy{}
	svc := NewService(repo, roles, audit, nil)
	svc.cost = bcrypt.MinCost
	return svc, repo, roles, audit
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, repo, _, audit := newTestService()

	user, err := svc.CreateUser(context.Background(), "1", CreateUserInput{Email: " Clerk@Odyssey.Local ", Name: "Clerk", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "clerk@odyssey.local", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[user.ID]), []byte("s3cret-pass")))
	assert.Equal(t, []string{"user.create"}, audit.actions)

	_, err = svc.CreateUser(context.Background(), "1", CreateUserInput{Email: "clerk@odyssey.local", Name: "Again", Password: "another-pass"})
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestSetActive(t *testing.T) {
	svc, repo, _, _ := newTestService()
	_, err := svc.CreateUser(context.Background(), "9", CreateUserInput{Email: "a@b.c", Name: "A", Password: "password1"})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), "9", 1, false))
	assert.False(t, repo.users[0].IsActive)

	assert.ErrorIs(t, svc.SetActive(context.Background(), "1", 1, false), httpx.ErrConflict)
	assert.NoError(t, svc.SetActive(context.Background(), "1", 1, true))
	assert.ErrorIs(t, svc.SetActive(context.Background(), "9", 42, true), httpx.ErrNotFound)
}

func TestRoleAssignment(t *testing.T) {
	svc, _, roles, audit := newTestService()

	require.NoError(t, svc.AssignRole(context.Background(), "1", 2, 3))
	assert.True(t, roles.assigned[[2]int64{2, 3}])
	require.NoError(t, svc.RemoveRole(context.Background(), "1", 2, 3))
	assert.Empty(t, roles.assigned)
	assert.Equal(t, []string{"user.role.assign", "user.role.remove"}, audit.actions)

	assert.ErrorIs(t, svc.AssignRole(context.Background(), "1", 2, 99), ErrNotFound)
}

type grantAll []string

func (g grantAll) EffectivePermissions(context.Context, int64) ([]string, error) { return g, nil }

func newTestRouter(t *testing.T, svc *Service, perms ...string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, rbac.Middleware{Service: grantAll(perms), Logger: logger})
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
	r.Route("/users", h.MountRoutes)
	return r
}

func TestHandlerCreateUser(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := newTestRouter(t, svc, shared.PermUsersEdit)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/",
		strings.NewReader(`{"email":"new@odyssey.local","name":"New","password":"password1"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "password")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/",
		strings.NewReader(`{"email":"not-an-email","name":"New","password":"password1"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/1/active", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/1/active", strings.NewReader(`{"active":false}`)))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerRoleRoutesNeedBothPermissions(t *testing.T) {
	svc, _, _, _ := newTestService()

	rr := httptest.NewRecorder()
	newTestRouter(t, svc, shared.PermUsersEdit).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/2/roles/3", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	newTestRouter(t, svc, shared.PermUsersEdit, shared.PermRolesEdit).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/2/roles/3", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	newTestRouter(t, svc, shared.PermUsersEdit, shared.PermRolesEdit).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/2/roles/99", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
