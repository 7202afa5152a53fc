package web

import (
	"net/http"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"
)

// basicAuth checks basic auth credentials against the configured bcrypt hash, user is always "calcn"
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == "calcn" {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			log.Printf("[WARN] invalid password for %s from %s", r.URL.Path, r.RemoteAddr)
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="calcn"`)
		s.writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
	})
}
