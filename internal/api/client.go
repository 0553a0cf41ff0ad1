package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/campuskinect/kinect-go/internal/auth"
	"github.com/campuskinect/kinect-go/internal/keyring"
	"github.com/campuskinect/kinect-go/internal/logger"
)

// CredentialStore is the durable token storage the client reads from and
// writes to. keyring.Keyring implements it.
type CredentialStore interface {
	Tokens() (access, refresh string, err error)
	SaveTokens(access, refresh string) error
	SaveUserID(id string) error
	UserID() (string, error)
	Clear() error
}

// Client is the single point of contact with the remote CampusKinect API.
// It attaches the bearer token to authenticated requests and performs at
// most one refresh-and-retry per original request on a 401.
type Client struct {
	baseURL string
	httpc   *http.Client
	creds   CredentialStore
	log     *logger.Logger

	// serializes token refreshes so concurrent 401s trigger one refresh
	refreshMu sync.Mutex
}

// NewClient creates an API client rooted at baseURL (e.g.
// "https://api.campuskinect.net/api/v1").
func NewClient(baseURL string, creds CredentialStore) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		creds:   creds,
		log:     logger.New("api"),
	}
}

// envelope is the {success, message, data} wrapper every endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Authenticated reports whether a usable access token is stored. It is the
// gate the sync loop checks before issuing any request.
func (c *Client) Authenticated() bool {
	access, _, err := c.creds.Tokens()
	if err != nil {
		return false
	}
	return auth.TokenUsable(access)
}

// CurrentUserID returns the id of the logged-in user, preferring the token
// claims over the stored copy.
func (c *Client) CurrentUserID() string {
	if access, _, err := c.creds.Tokens(); err == nil {
		if id, err := auth.UserIDFromToken(access); err == nil {
			return id
		}
	}
	id, err := c.creds.UserID()
	if err != nil {
		return ""
	}
	return id
}

// AccessToken returns the stored access token when it is still usable. The
// socket listener uses it as its dial credential.
func (c *Client) AccessToken() (string, bool) {
	access, _, err := c.creds.Tokens()
	if err != nil || !auth.TokenUsable(access) {
		return "", false
	}
	return access, true
}

// Logout clears the stored credentials. Subsequent authenticated calls fail
// fast instead of looping through refresh attempts.
func (c *Client) Logout() error {
	return c.creds.Clear()
}

// do runs one request against the API. body is marshalled to JSON when non
// nil, and data from the response envelope is unmarshalled into out when out
// is non nil.
func (c *Client) do(ctx context.Context, method, path string, body any, requiresAuth bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "cannot encode request body", Err: err}
		}
	}

	status, respBody, usedToken, err := c.send(ctx, method, path, payload, requiresAuth)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && requiresAuth {
		if rerr := c.refreshTokens(ctx, usedToken); rerr != nil {
			// Refresh failed: the session is over, clear credentials so the
			// app fails fast instead of retrying forever.
			if cerr := c.creds.Clear(); cerr != nil {
				c.log.Error("Failed to clear credentials after refresh failure: %v", cerr)
			}
			return &Error{Kind: KindAuth, Status: status, Message: "session expired", Err: rerr}
		}
		c.log.Debug("Token refreshed, retrying %s %s", method, path)
		status, respBody, _, err = c.send(ctx, method, path, payload, requiresAuth)
		if err != nil {
			return err
		}
	}

	return c.decode(status, respBody, out)
}

// send runs the request once and reports which access token it attached, so
// the 401 path can tell a stale token from one that was already replaced.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, requiresAuth bool) (int, []byte, string, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, "", &Error{Kind: KindNetwork, Message: "cannot build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var usedToken string
	if requiresAuth {
		access, _, err := c.creds.Tokens()
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return 0, nil, "", &Error{Kind: KindAuth, Message: "not logged in"}
			}
			return 0, nil, "", &Error{Kind: KindAuth, Message: "cannot read credentials", Err: err}
		}
		usedToken = access
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, usedToken, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, usedToken, &Error{Kind: KindNetwork, Message: "cannot read response", Err: err}
	}
	return resp.StatusCode, respBody, usedToken, nil
}

func (c *Client) decode(status int, body []byte, out any) error {
	switch {
	case status >= 200 && status < 300:
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return &Error{Kind: KindDecoding, Status: status, Message: "unexpected response shape", Err: err}
		}
		if !env.Success {
			return &Error{Kind: KindValidation, Status: status, Message: env.Message}
		}
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.log.Error("Response decoding failed: %v (body: %.200s)", err, string(body))
			return &Error{Kind: KindDecoding, Status: status, Message: "unexpected response shape", Err: err}
		}
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Status: status, Message: serverMessage(body, "unauthorized")}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: status, Message: serverMessage(body, "not found")}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return &Error{Kind: KindValidation, Status: status, Message: serverMessage(body, "bad request")}
	case status >= 500:
		return &Error{Kind: KindServer, Status: status, Message: serverMessage(body, "server error")}
	default:
		return &Error{Kind: KindServer, Status: status, Message: serverMessage(body, fmt.Sprintf("unexpected status %d", status))}
	}
}

// serverMessage extracts the human-readable message from an error response,
// falling back to a generic one.
func serverMessage(body []byte, fallback string) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return fallback
}

// refreshTokens exchanges the stored refresh token for a new pair.
// staleAccess is the token the failed request carried: when the stored token
// already differs, another goroutine refreshed while this one waited on the
// mutex and the round trip is skipped. Expiry is no signal here, a server can
// reject a token that still looks live locally (revocation, key rotation).
func (c *Client) refreshTokens(ctx context.Context, staleAccess string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	access, refresh, err := c.creds.Tokens()
	if err != nil {
		return fmt.Errorf("no stored refresh token: %w", err)
	}
	if access != staleAccess {
		// Another request already refreshed.
		return nil
	}
	if refresh == "" {
		return errors.New("no stored refresh token")
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return err
	}

	status, body, _, err := c.send(ctx, http.MethodPost, "/auth/refresh", payload, false)
	if err != nil {
		return err
	}

	var data struct {
		Tokens struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"tokens"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.decode(status, body, &data); err != nil {
		return err
	}

	// Some deployments nest the pair under "tokens", some return it flat.
	newAccess, newRefresh := data.Tokens.AccessToken, data.Tokens.RefreshToken
	if newAccess == "" {
		newAccess, newRefresh = data.AccessToken, data.RefreshToken
	}
	if newAccess == "" {
		return errors.New("refresh response carried no access token")
	}
	if newRefresh == "" {
		newRefresh = refresh
	}

	if err := c.creds.SaveTokens(newAccess, newRefresh); err != nil {
		return fmt.Errorf("cannot persist refreshed tokens: %w", err)
	}
	c.log.Info("Access token refreshed")
	return nil
}
