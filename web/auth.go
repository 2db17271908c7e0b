package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/msteinert/pam"
)

const sessionName = "denoiseg"

// Auth checks for a valid login session and falls back to basic auth against
// the local pam service, storing the user in a session cookie on success.
type Auth struct {
	t       *Templates
	service string
	basic   func(http.Handler) http.Handler
}

// NewAuth creates the authentication middleware. service is the pam service
// name, or empty for the default.
func NewAuth(t *Templates, service string) *Auth {
	a := &Auth{t: t, service: service}
	a.basic = httpauth.BasicAuth(httpauth.AuthOptions{
		Realm:    "denoiseg",
		AuthFunc: a.login,
	})
	return a
}

// Wrap the handler so that only authenticated requests are passed through.
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := a.t.store.Get(r, sessionName)
		if err == nil {
			if user, ok := sess.Values["user"].(string); ok && user != "" {
				next.ServeHTTP(w, r)
				return
			}
		}
		a.basic(a.saveSession(next)).ServeHTTP(w, r)
	})
}

// called after basic auth succeeds to persist the login in a cookie
func (a *Auth) saveSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		sess, _ := a.t.store.Get(r, sessionName)
		sess.Values["user"] = user
		if err := sess.Save(r, w); err != nil {
			log.Println("auth: error saving session:", err)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) login(user, pass string, r *http.Request) bool {
	tx, err := pam.StartFunc(a.service, user, func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOn:
			return user, nil
		case pam.PromptEchoOff:
			return pass, nil
		}
		return "", errors.New("unexpected prompt style")
	})
	if err != nil {
		log.Println("auth: pam error:", err)
		return false
	}
	ok := tx.Authenticate(0) == nil
	log.Printf("auth: login user=%s ok=%v\n", user, ok)
	return ok
}
