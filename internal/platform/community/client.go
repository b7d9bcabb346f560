package community

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrMemberNotFound = errors.New("member not found")

// Member is the live membership record as the bot gateway reports it.
type Member struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	RoleIDs  []string `json:"role_ids"`
}

func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Client is the outbound capability surface of the chat platform: membership
// reads, role mutation and direct notification. The engine never talks to
// the platform any other way.
type Client interface {
	Member(ctx context.Context, memberID string) (*Member, error)
	RoleExists(ctx context.Context, roleID string) (bool, error)
	AddMemberRole(ctx context.Context, memberID, roleID string) error
	RemoveMemberRole(ctx context.Context, memberID, roleID string) error
	DirectMessage(ctx context.Context, memberID, content string) error
	Ready(ctx context.Context) error
}

type httpClient struct {
	baseURL string
	token   string
	guildID string
	http    *http.Client
}

func NewHTTPClient(baseURL, token, guildID string) Client {
	return &httpClient{
		baseURL: baseURL,
		token:   token,
		guildID: guildID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) Member(ctx context.Context, memberID string) (*Member, error) {
	url := fmt.Sprintf("%s/guilds/%s/members/%s", c.baseURL, c.guildID, memberID)

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var m Member
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding member: %w", err)
		}
		return &m, nil
	case http.StatusNotFound:
		return nil, ErrMemberNotFound
	default:
		return nil, fmt.Errorf("member fetch returned %d", resp.StatusCode)
	}
}

func (c *httpClient) RoleExists(ctx context.Context, roleID string) (bool, error) {
	url := fmt.Sprintf("%s/guilds/%s/roles/%s", c.baseURL, c.guildID, roleID)

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("role fetch returned %d", resp.StatusCode)
	}
}

func (c *httpClient) AddMemberRole(ctx context.Context, memberID, roleID string) error {
	url := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.baseURL, c.guildID, memberID, roleID)
	return c.mutate(ctx, http.MethodPut, url)
}

func (c *httpClient) RemoveMemberRole(ctx context.Context, memberID, roleID string) error {
	url := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.baseURL, c.guildID, memberID, roleID)
	return c.mutate(ctx, http.MethodDelete, url)
}

func (c *httpClient) DirectMessage(ctx context.Context, memberID, content string) error {
	url := fmt.Sprintf("%s/members/%s/messages", c.baseURL, memberID)

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("direct message returned %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) Ready(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway health returned %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) mutate(ctx context.Context, method, url string) error {
	resp, err := c.do(ctx, method, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %d", method, url, resp.StatusCode)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, url string, body *bytes.Reader) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}
