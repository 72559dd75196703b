package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpPeerClient is the production PeerClient: push/pull against one
// peer's federation endpoints, bearer-authenticated with a minted
// federation JWT (spec.md §6 "Outbound HTTP").
type httpPeerClient struct {
	client     *http.Client
	baseURL    string
	localRealm string
	peerRealm  string
	jwtSecret  string
	clock      func() time.Time
}

// NewHTTPPeerClient builds a PeerClient for one (localRealm, peerRealm)
// pair over an already-hardened client (internal/httpclient.New).
func NewHTTPPeerClient(client *http.Client, baseURL, localRealm, peerRealm, jwtSecret string) PeerClient {
	return &httpPeerClient{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		localRealm: localRealm,
		peerRealm:  peerRealm,
		jwtSecret:  jwtSecret,
		clock:      time.Now,
	}
}

func (c *httpPeerClient) bearer() (string, error) {
	return mintFederationJWT(c.jwtSecret, c.localRealm, c.peerRealm, c.clock())
}

// PushResources posts the hub's eligible local resources to the peer
// (spec.md §6 "POST {peer}/federation/resources").
func (c *httpPeerClient) PushResources(ctx context.Context, correlationID string, resources []Resource) error {
	body, err := json.Marshal(map[string]any{
		"correlationId": correlationID,
		"sourceRealm":   c.localRealm,
		"resources":     resources,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/federation/resources", bytes.NewReader(body))
	if err != nil {
		return err
	}
	token, err := c.bearer()
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("X-Origin-Realm", c.localRealm)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pushing resources to %s: unexpected status %d", c.peerRealm, resp.StatusCode)
	}
	return nil
}

// PullResources fetches the peer's resources releasable to releasableTo,
// excluding ones originated there (spec.md §6 "GET
// {peer}/federation/resources?releasableTo=<code>&excludeOrigin=<code>").
func (c *httpPeerClient) PullResources(ctx context.Context, releasableTo, excludeOrigin string) ([]Resource, error) {
	q := url.Values{"releasableTo": {releasableTo}, "excludeOrigin": {excludeOrigin}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/federation/resources?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Origin-Realm", c.localRealm)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pulling resources from %s: unexpected status %d", c.peerRealm, resp.StatusCode)
	}

	var body struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Resources, nil
}
