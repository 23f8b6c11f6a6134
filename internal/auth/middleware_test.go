package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMiddleware(t *testing.T) {
	store := NewCookieStore("test-secret-0123456789abcdef", false)

	protected := UserMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(session.UserID))
	}))

	t.Run("rejects anonymous requests", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"state":"error","error":"not authorized"}`, rec.Body.String())
	})

	t.Run("rejects tampered cookies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
		req.AddCookie(&http.Cookie{Name: SessionName, Value: "garbage"})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("login then logout", func(t *testing.T) {
		loginRec := httptest.NewRecorder()
		require.NoError(t, Login(store, loginRec, httptest.NewRequest(http.MethodPost, "/auth/signin", nil), "user-42"))
		cookies := loginRec.Result().Cookies()
		require.NotEmpty(t, cookies)

		req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-42", rec.Body.String())

		logoutReq := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
		for _, c := range cookies {
			logoutReq.AddCookie(c)
		}
		logoutRec := httptest.NewRecorder()
		userID, err := Logout(store, logoutRec, logoutReq)
		require.NoError(t, err)
		assert.Equal(t, "user-42", userID)

		expired := logoutRec.Result().Cookies()
		require.NotEmpty(t, expired)
		assert.True(t, expired[0].MaxAge < 0)
		assert.Equal(t, cookieMaxAge, store.Options.MaxAge)
	})
}

func TestSessionFrom_Empty(t *testing.T) {
	_, ok := SessionFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
