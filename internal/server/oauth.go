package server

import (
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/services"
)

// OAuthHandler drives the provider authorization flow: /auth/login redirects
// the browser to the provider consent page, /auth/callback exchanges the code
// and stores the user with a sealed refresh credential.
type OAuthHandler struct {
	auth   *services.Authenticator
	logger *log.Logger
}

// NewOAuthHandler creates the authorization flow handler.
func NewOAuthHandler(auth *services.Authenticator, logger *log.Logger) *OAuthHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &OAuthHandler{auth: auth, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/auth/login", "/auth/callback"}
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		http.Redirect(w, r, h.auth.AuthURL(), http.StatusFound)
	case "/auth/callback":
		h.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

// callback validates state, exchanges the authorization code, and persists
// the account. Provider denials surface the provider's own error text.
func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("authorization denied", "error", errParam)
		http.Error(w, fmt.Sprintf("Authorization failed: %s", errParam), http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	user, err := h.auth.Exchange(r.Context(), code, query.Get("state"))
	if err != nil {
		h.logger.Error("code exchange failed", "error", err)
		writeError(w, err)
		return
	}

	h.logger.Info("user authorized", "user_id", user.ID, "spotify_user_id", user.SpotifyUserID)
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
        code { background: #eee; padding: 0.2rem 0.4rem; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Authorization Successful</h1>
        <p>History collection is now active for <code>%s</code>. You can close this window.</p>
    </div>
</body>
</html>
`, user.SpotifyUserID)
}
