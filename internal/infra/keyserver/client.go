package keyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tufserv/internal/domain"
)

// Client talks to the key server over its HTTP surface. The repo
// server holds exactly one of these; the two processes share nothing
// else.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) FetchRoot(ctx context.Context, repoID string) (*domain.SignedRootRole, error) {
	return c.fetchRoot(ctx, fmt.Sprintf("%s/root/%s", c.baseURL, repoID))
}

func (c *Client) FetchRootVersion(ctx context.Context, repoID string, version int64) (*domain.SignedRootRole, error) {
	return c.fetchRoot(ctx, fmt.Sprintf("%s/root/%s/%d", c.baseURL, repoID, version))
}

func (c *Client) fetchRoot(ctx context.Context, url string) (*domain.SignedRootRole, error) {
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var payload domain.SignedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	var doc domain.RootRole
	if err := json.Unmarshal(payload.Signed, &doc); err != nil {
		return nil, err
	}
	return &domain.SignedRootRole{
		Version:        doc.Version,
		ExpiresAt:      doc.Expires,
		Payload:        payload,
		CanonicalBytes: body,
	}, nil
}

func (c *Client) CreateRoot(ctx context.Context, repoID string, keyType domain.KeyType, threshold int, forceSync bool) ([]string, error) {
	reqBody, err := json.Marshal(map[string]any{
		"threshold": threshold,
		"keyType":   string(keyType),
		"forceSync": forceSync,
	})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/root/%s", c.baseURL, repoID), reqBody)
	if err != nil {
		return nil, err
	}
	var out struct {
		KeyGenRequestIDs []string `json:"keyGenRequestIds"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.KeyGenRequestIDs, nil
}

func (c *Client) RotateRoot(ctx context.Context, repoID string) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/root/%s/rotate", c.baseURL, repoID), nil)
	return err
}

func (c *Client) SignPayload(ctx context.Context, repoID string, roleType domain.RoleType, signed []byte) (*domain.SignedPayload, error) {
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/root/%s/%s", c.baseURL, repoID, roleType), signed)
	if err != nil {
		return nil, err
	}
	var payload domain.SignedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return out, nil
	}
	return nil, errorFromResponse(resp.StatusCode, out)
}

// errorFromResponse maps the key server's error body back onto the
// domain sentinels so the repo server reacts the same way it would to
// a local failure.
func errorFromResponse(status int, body []byte) error {
	var errBody struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(body, &errBody)
	switch errBody.Code {
	case "missing_entity":
		return domain.ErrMissingEntity
	case "entity_already_exists":
		return domain.ErrEntityAlreadyExists
	case "keys_not_ready":
		return domain.ErrKeysNotReady
	case "role_key_not_found":
		return domain.ErrRoleKeyNotFound
	case "key_not_available":
		return domain.ErrKeyNotAvailable
	case "invalid_version_bump":
		return domain.ErrInvalidVersionBump
	case "invalid_root_role":
		return fmt.Errorf("%w: %s", domain.ErrInvalidRootRole, errBody.Description)
	}
	switch status {
	case http.StatusNotFound:
		return domain.ErrMissingEntity
	case http.StatusConflict:
		return domain.ErrEntityAlreadyExists
	case http.StatusFailedDependency:
		return domain.ErrKeysNotReady
	case http.StatusPreconditionFailed:
		return domain.ErrPreconditionFailed
	}
	return errors.New("keyserver: " + strings.TrimSpace(string(body)))
}
