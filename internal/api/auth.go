package api

import (
	"context"
	"net/http"

	"github.com/campuskinect/kinect-go/internal/models"
)

// Login authenticates with a username or email plus password and persists
// the issued token pair.
func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (*models.AuthSession, error) {
	if usernameOrEmail == "" || password == "" {
		return nil, &Error{Kind: KindValidation, Message: "username and password are required"}
	}

	var session models.AuthSession
	req := models.LoginRequest{UsernameOrEmail: usernameOrEmail, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, false, &session); err != nil {
		return nil, err
	}

	if err := c.storeSession(&session); err != nil {
		return nil, err
	}
	c.log.Info("Logged in as %s", session.User.Username)
	return &session, nil
}

// Register submits a new account. The account stays pending until the
// emailed code is confirmed with VerifyCode.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/auth/register", req, false, nil)
}

// VerifyCode confirms the emailed verification code and, on success,
// persists the issued session.
func (c *Client) VerifyCode(ctx context.Context, email, code string) (*models.AuthSession, error) {
	var session models.AuthSession
	req := models.VerifyCodeRequest{Email: email, Code: code}
	if err := c.do(ctx, http.MethodPost, "/auth/verify-code", req, false, &session); err != nil {
		return nil, err
	}

	if err := c.storeSession(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ResendCode asks the server to email a fresh verification code.
func (c *Client) ResendCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/resend-code", map[string]string{"email": email}, false, nil)
}

func (c *Client) storeSession(session *models.AuthSession) error {
	if err := c.creds.SaveTokens(session.Tokens.AccessToken, session.Tokens.RefreshToken); err != nil {
		return &Error{Kind: KindServer, Message: "cannot persist session", Err: err}
	}
	if err := c.creds.SaveUserID(session.User.ID); err != nil {
		return &Error{Kind: KindServer, Message: "cannot persist session", Err: err}
	}
	return nil
}
