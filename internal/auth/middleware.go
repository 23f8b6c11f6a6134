package auth

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	SessionName  = "particle_session"
	userIDKey    = "user_id"
	cookieMaxAge = 86400 * 30
)

// Session is the signed-in identity carried by a request.
type Session struct {
	UserID string
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by UserMiddleware.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok && s.UserID != ""
}

// NewCookieStore builds the cookie store shared by password and OAuth
// sign-in.
func NewCookieStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.MaxAge(cookieMaxAge)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	return store
}

// UserMiddleware rejects requests without a signed-in session and puts the
// Session into the request context for the handlers below it.
func UserMiddleware(store sessions.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := store.Get(r, SessionName)
			if err != nil {
				// a cookie signed with an old secret; treat as signed out
				log.Println("Invalid session cookie:", err)
			}

			userID, _ := session.Values[userIDKey].(string)
			if userID == "" {
				notAuthorized(w)
				return
			}
			ctx := WithSession(r.Context(), Session{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Login records userID in the session cookie.
func Login(store sessions.Store, w http.ResponseWriter, r *http.Request, userID string) error {
	session, _ := store.Get(r, SessionName)
	session.Values[userIDKey] = userID
	return session.Save(r, w)
}

// Logout expires the session cookie. It returns the user that was signed in,
// if any.
func Logout(store sessions.Store, w http.ResponseWriter, r *http.Request) (string, error) {
	session, _ := store.Get(r, SessionName)
	userID, _ := session.Values[userIDKey].(string)
	delete(session.Values, userIDKey)
	// copy so the store's shared options keep their max age
	opts := *session.Options
	opts.MaxAge = -1
	session.Options = &opts
	return userID, session.Save(r, w)
}

func notAuthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"state": "error",
		"error": "not authorized",
	})
}
