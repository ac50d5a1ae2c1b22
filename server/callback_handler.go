package server

import (
	"fmt"
	"html"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/norman-finance/norman-mcp-go/auth"
	"github.com/norman-finance/norman-mcp-go/upstream"
)

// OAuthCallbackHandler handles the redirect from Norman after user consent.
// Norman sends either code+state or error+error_description. On success the
// caller is redirected back to its original redirect URI carrying a local
// authorization code.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		errorParam := r.URL.Query().Get("error")
		errorDesc := r.URL.Query().Get("error_description")

		if errorParam != "" {
			log.Error().Str("error", errorParam).Str("description", errorDesc).Msg("authorization denied upstream")
			writeErrorPage(w, http.StatusBadRequest, "Authorization Failed",
				fmt.Sprintf("Error: %s", errorParam), errorDesc)
			return
		}

		if code == "" || state == "" {
			writeErrorPage(w, http.StatusBadRequest, "Invalid Callback",
				"Missing code or state parameter.", "")
			return
		}

		redirectURL, err := s.provider.HandleCallback(r.Context(), code, state)
		if err != nil {
			log.Error().Err(err).Msg("callback handling failed")
			switch {
			case errors.Is(err, upstream.ErrNetwork):
				writeErrorPage(w, http.StatusInternalServerError, "Authorization Failed",
					"Failed to communicate with Norman.", "")
			case errors.Is(err, auth.InvalidStateErr):
				writeErrorPage(w, http.StatusBadRequest, "Authorization Failed",
					"Invalid or expired state parameter.", "Restart the authorization flow.")
			default:
				writeErrorPage(w, http.StatusBadRequest, "Authorization Failed",
					"Error exchanging authorization code.", "")
			}
			return
		}

		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

func writeErrorPage(w http.ResponseWriter, status int, title, message, detail string) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	body := fmt.Sprintf(`<html>
<head><title>%s</title></head>
<body>
	<h1>%s</h1>
	<p>%s</p>`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
	if detail != "" {
		body += fmt.Sprintf("\n\t<p>%s</p>", html.EscapeString(detail))
	}
	body += "\n</body>\n</html>\n"
	_, _ = w.Write([]byte(body))
}
