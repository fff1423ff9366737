package intuis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// OAuth application identification, shared by all Intuis Connect clients.
const (
	clientID     = "59e604638fe283fd4dc7e353"
	clientSecret = "ZW2vL8czEkn87zemtR1h1ZB0ZVwoeR"
	authScope    = "read_muller write_muller"
	userPrefix   = "muller"
	appType      = "app_muller"
	appVersion   = "1108100"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Login authenticates with the Intuis Connect service and returns the homes
// associated with the account.
func (c *Client) Login(ctx context.Context) ([]Home, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	homes, err := c.GetHomes(ctx)
	if err != nil {
		return nil, err
	}
	if len(homes) == 0 {
		return nil, fmt.Errorf("%w: no home associated with account", ErrAuth)
	}
	return homes, nil
}

// login performs the password grant, trying each API cluster in turn, and
// saves the tokens of the cluster that accepted the credentials.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		"grant_type":    []string{"password"},
		"username":      []string{c.username},
		"password":      []string{c.password},
		"client_id":     []string{clientID},
		"client_secret": []string{clientSecret},
		"scope":         []string{authScope},
		"user_prefix":   []string{userPrefix},
		"app_version":   []string{appVersion},
	}

	for _, base := range c.clusters {
		token, err := c.postAuthForm(ctx, base, form)
		if err != nil {
			c.logger.Warn("login failed", "cluster", base, "err", err)
			continue
		}
		c.lock.Lock()
		c.baseURL = base
		c.saveTokens(token)
		c.lock.Unlock()
		return nil
	}
	return fmt.Errorf("%w: unable to log in on any cluster", ErrConnectivity)
}

// refreshAccessToken exchanges the refresh token for a new access token.
// Callers must not hold c.lock.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.lock.Lock()
	refreshToken := c.refreshToken
	base := c.baseURL
	c.lock.Unlock()

	if refreshToken == "" {
		return fmt.Errorf("%w: no refresh token saved", ErrAuth)
	}

	form := url.Values{
		"grant_type":    []string{"refresh_token"},
		"refresh_token": []string{refreshToken},
		"client_id":     []string{clientID},
		"client_secret": []string{clientSecret},
		"user_prefix":   []string{userPrefix},
	}
	token, err := c.postAuthForm(ctx, base, form)
	if err != nil {
		return fmt.Errorf("%w: token refresh failed: %w", ErrAuth, err)
	}

	c.lock.Lock()
	c.saveTokens(token)
	c.lock.Unlock()
	c.logger.Debug("access token refreshed", "expires_in", token.ExpiresIn)
	return nil
}

// ensureToken guarantees a valid access token: it logs in when no tokens are
// saved yet and refreshes proactively when the token is about to expire.
func (c *Client) ensureToken(ctx context.Context) error {
	c.lock.Lock()
	accessToken := c.accessToken
	expiry := c.expiry
	refreshToken := c.refreshToken
	c.lock.Unlock()

	if accessToken == "" && refreshToken == "" {
		return c.login(ctx)
	}
	if accessToken != "" && time.Now().Before(expiry.Add(-tokenExpiryMargin)) {
		return nil
	}
	return c.refreshAccessToken(ctx)
}

func (c *Client) postAuthForm(ctx context.Context, base string, form url.Values) (tokenResponse, error) {
	var token tokenResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+authPath, strings.NewReader(form.Encode()))
	if err != nil {
		return token, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return token, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return token, fmt.Errorf("auth: %s", resp.Status)
	}
	if err = json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return token, fmt.Errorf("auth: decode: %w", err)
	}
	if token.AccessToken == "" {
		return token, fmt.Errorf("auth: response did not contain access_token")
	}
	return token, nil
}

// saveTokens stores the tokens and expiry. Callers must hold c.lock.
func (c *Client) saveTokens(token tokenResponse) {
	c.accessToken = token.AccessToken
	c.refreshToken = token.RefreshToken
	expiresIn := token.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 10800
	}
	c.expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
}

func (c *Client) bearerToken() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.accessToken
}
