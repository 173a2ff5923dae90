// Package twitchapi is a minimal Helix client used to validate link targets.
// App-access tokens come from the client-credentials flow and refresh
// automatically.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ErrUserNotFound means the login does not exist on Twitch.
var ErrUserNotFound = errors.New("twitch user not found")

// Client talks to the Helix API with an app access token.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// New builds a Helix client. The returned client's transport injects and
// refreshes the app token.
func New(clientID, clientSecret string) *Client {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     "https://id.twitch.tv/oauth2/token",
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = 10 * time.Second
	return &Client{
		baseURL:  "https://api.twitch.tv/helix",
		clientID: clientID,
		http:     httpClient,
	}
}

// NewWithBase is New pointed at a test server, with a plain HTTP client.
func NewWithBase(baseURL, clientID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, clientID: clientID, http: httpClient}
}

type usersResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Login       string `json:"login"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

// UserID resolves a login name to its Twitch user id.
func (c *Client) UserID(ctx context.Context, login string) (string, error) {
	endpoint := c.baseURL + "/users?login=" + url.QueryEscape(login)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build helix request: %w", err)
	}
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("helix users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix users: unexpected status %d", resp.StatusCode)
	}

	var out usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode helix users: %w", err)
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return out.Data[0].ID, nil
}
