package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"glide-client/internal/domain/message"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

const codeOK = 100

// Client talks to the directory/profile, session listing and message
// history HTTP APIs on behalf of the signed-in identity.
type Client struct {
	http *resty.Client
	log  *logger.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// UserInfoBean is a directory profile entry.
type UserInfoBean struct {
	UID      int64  `json:"uid"`
	NickName string `json:"nick_name"`
	Avatar   string `json:"avatar"`
}

// SessionBean is one entry of the authoritative session listing.
type SessionBean struct {
	To       int64 `json:"to"`
	UpdateAt int64 `json:"update_at"`
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	httpc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpc, log: log}
}

// SetToken installs the bearer token for subsequent requests. The token
// is parsed (without signature verification, the server owns that) so
// expiry can be reported before a doomed request is issued.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = time.Time{}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil {
		if claims.ExpiresAt != nil {
			c.expiresAt = claims.ExpiresAt.Time
		}
	}
	c.http.SetAuthToken(token)
}

// IdentityFromToken extracts the subject claim, the signed-in user id,
// from an auth token without verifying the signature.
func IdentityFromToken(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", glide_errors.ErrInvalidInput
	}
	if claims.Subject == "" {
		return "", glide_errors.ErrInvalidInput
	}
	return claims.Subject, nil
}

func (c *Client) checkToken() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		return glide_errors.ErrTokenExpired
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	if err := c.checkToken(); err != nil {
		return err
	}
	res, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return glide_errors.Transport(path, err)
	}
	var env envelope
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return glide_errors.Transport(path, err)
	}
	if env.Code != codeOK {
		return glide_errors.Transport(path, fmt.Errorf("api code %d: %s", env.Code, env.Msg))
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return glide_errors.Transport(path, err)
		}
	}
	return nil
}

// GetUserInfo resolves directory profiles for the given user ids in one
// batched request.
func (c *Client) GetUserInfo(ctx context.Context, ids ...string) ([]UserInfoBean, error) {
	var out []UserInfoBean
	err := c.post(ctx, "/user/info", map[string]interface{}{"uids": ids}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions fetches the authoritative recent-session listing.
func (c *Client) ListSessions(ctx context.Context) ([]SessionBean, error) {
	var out []SessionBean
	err := c.post(ctx, "/session/recent", map[string]interface{}{}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessageHistory pages message history for a peer, newest page with
// ordering keys below beforeSeq. beforeSeq == 0 asks for the latest page.
func (c *Client) GetMessageHistory(ctx context.Context, to string, beforeSeq int64) ([]message.Wire, error) {
	var out []message.Wire
	err := c.post(ctx, "/message/history", map[string]interface{}{
		"to":         to,
		"before_seq": beforeSeq,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
