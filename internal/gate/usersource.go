package gate

import (
	"context"
	"fmt"
	"strings"

	"hubview/api/internal/remote"
)

// HTTPUserSource reads the current user from the user profile endpoint.
type HTTPUserSource struct {
	http     *remote.Client
	loginURL string
}

func NewHTTPUserSource(transport *remote.Client, loginURL string) *HTTPUserSource {
	return &HTTPUserSource{http: transport, loginURL: strings.TrimSpace(loginURL)}
}

// WithToken returns a source that identifies the user behind token.
func (s *HTTPUserSource) WithToken(token string) *HTTPUserSource {
	return &HTTPUserSource{http: s.http.WithToken(token), loginURL: s.loginURL}
}

func (s *HTTPUserSource) GetUser(ctx context.Context) (Session, error) {
	var profile struct {
		UserID    string `json:"userId"`
		UserName  string `json:"userName"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"emailId"`
	}
	if err := s.http.GetJSON(ctx, "/users/@me", nil, &profile); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(profile.UserID) == "" {
		return Session{}, fmt.Errorf("user profile has no id")
	}
	name := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	if name == "" {
		name = profile.UserName
	}
	return Session{UserID: profile.UserID, UserName: name, Email: profile.Email}, nil
}

// Login does not contact the service: the login flow runs in the user's
// browser, so all that is needed here is where to send them.
func (s *HTTPUserSource) Login(context.Context) (string, error) {
	if s.loginURL == "" {
		return "", fmt.Errorf("login URL not configured")
	}
	return s.loginURL, nil
}
