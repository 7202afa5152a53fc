package web

import (
	"net/http"
	"time"

	"github.com/umputun/calcn/app/enums"
)

// handleIndex renders the calculator page, history is loaded by the page script
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := templateData{
		BaseURL:     s.baseURL,
		Version:     shortVersion(s.version),
		FullVersion: s.version,
		Theme:       s.getTheme(r),
		Stateless:   s.store == nil,
		CurrentYear: time.Now().Year(),
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	s.render(w, "index.html", "index.html", data)
}

// handleThemeToggle toggles the theme cookie and returns the new theme
func (s *Server) handleThemeToggle(w http.ResponseWriter, r *http.Request) {
	currentTheme := s.getTheme(r)

	// toggle: light <-> dark
	nextTheme := enums.ThemeLight
	if currentTheme == enums.ThemeLight {
		nextTheme = enums.ThemeDark
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "theme",
		Value:    nextTheme.String(),
		Path:     s.cookiePath(),
		MaxAge:   365 * 24 * 60 * 60, // 1 year
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.writeJSON(w, http.StatusOK, map[string]string{"theme": nextTheme.String()})
}
