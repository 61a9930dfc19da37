package dishapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/2beens/dishexplorer/internal/session"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidResponse    = "Invalid response from server"
	msgRegistrationFailed = "Registration failed"
)

type LoginResult struct {
	Token string          `json:"token"`
	User  session.Profile `json:"user"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token and profile. It does not touch the session:
// callers persist the result with session.Store.Login.
// Rejected credentials come back as a *ValidationError, never as ErrUnauthorized.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	respBytes, err := c.do(ctx, apiRequest{
		endpoint: "login",
		method:   http.MethodPost,
		path:     "/api/auth/login",
		body: map[string]string{
			"email":    email,
			"password": password,
		},
	})
	if err != nil {
		return nil, withFallbackMessage(err, msgInvalidCredentials)
	}

	result := &LoginResult{}
	if err := decode(respBytes, result); err != nil {
		return nil, &ValidationError{Status: http.StatusOK, Message: msgInvalidResponse}
	}
	if result.Token == "" || result.User.Empty() {
		return nil, &ValidationError{Status: http.StatusOK, Message: msgInvalidResponse}
	}

	return result, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	_, err := c.do(ctx, apiRequest{
		endpoint: "register",
		method:   http.MethodPost,
		path:     "/api/auth/register",
		body:     req,
	})
	if err != nil {
		return withFallbackMessage(err, msgRegistrationFailed)
	}
	return nil
}

// withFallbackMessage fills in a user facing message when the API rejected
// the request without saying why.
func withFallbackMessage(err error, msg string) error {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) && validationErr.Message == "" {
		return &ValidationError{Status: validationErr.Status, Message: msg}
	}
	return err
}
