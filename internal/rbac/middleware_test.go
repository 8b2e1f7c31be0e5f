package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

type stubPermissions struct {
	perms map[int64][]string
	err   error
}

func (s stubPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[userID], nil
}

func requestAs(t *testing.T, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sessions := shared.NewSessionManager(nil, "odyssey_session", time.Hour, false)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	if userID != "" {
		sess.Login(userID, time.Now())
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func serve(mw func(http.Handler) http.Handler, req *http.Request) int {
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{Service: stubPermissions{perms: map[int64][]string{7: {"sales.invoice.view"}}}}

	assert.Equal(t, http.StatusNoContent, serve(m.RequireAny("sales.invoice.view", "sales.invoice.create"), requestAs(t, "7")))
	assert.Equal(t, http.StatusForbidden, serve(m.RequireAny("sales.invoice.post"), requestAs(t, "7")))
	assert.Equal(t, http.StatusUnauthorized, serve(m.RequireAny("sales.invoice.view"), requestAs(t, "")))
	assert.Equal(t, http.StatusUnauthorized, serve(m.RequireAny("sales.invoice.view"), requestAs(t, "not-a-number")))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{Service: stubPermissions{perms: map[int64][]string{7: {"SALES.INVOICE.VIEW", "sales.invoice.edit"}}}}

	assert.Equal(t, http.StatusNoContent, serve(m.RequireAll("sales.invoice.view", " sales.invoice.edit "), requestAs(t, "7")))
	assert.Equal(t, http.StatusForbidden, serve(m.RequireAll("sales.invoice.view", "sales.invoice.post"), requestAs(t, "7")))
	assert.Equal(t, http.StatusNoContent, serve(m.RequireAll(), requestAs(t, "")))
}

func TestRequireAnyLookupFailure(t *testing.T) {
	m := Middleware{Service: stubPermissions{err: errors.New("db down")}}
	assert.Equal(t, http.StatusInternalServerError, serve(m.RequireAny("sales.invoice.view"), requestAs(t, "7")))
}

func TestForbiddenIsProblemJSON(t *testing.T) {
	m := Middleware{Service: stubPermissions{perms: map[int64][]string{7: {"sales.invoice.view"}}}}
	rec := httptest.NewRecorder()
	m.RequireAll("sales.invoice.post")(http.NotFoundHandler()).ServeHTTP(rec, requestAs(t, "7"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
	assert.Contains(t, rec.Body.String(), "sales.invoice.post")
}

func TestCurrentUserID(t *testing.T) {
	id, ok := CurrentUserID(requestAs(t, "42"))
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = CurrentUserID(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}
