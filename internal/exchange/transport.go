package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// httpTransport is the production PeerTransport. It adds no credential
// of its own: a TLS client certificate is presented only if the supplied
// client was built with one, and the client app.Bootstrap builds
// (internal/httpclient with a CA bundle only) carries none.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a PeerTransport over an already-hardened
// client (internal/httpclient.New).
func NewHTTPTransport(client *http.Client) PeerTransport {
	return &httpTransport{client: client}
}

func (t *httpTransport) Introspect(ctx context.Context, peerBaseURL, token string) (*http.Response, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinPath(peerBaseURL, "/introspect"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.client.Do(req)
}

func (t *httpTransport) TokenExchange(ctx context.Context, peerBaseURL string, form map[string]string) (*http.Response, error) {
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinPath(peerBaseURL, "/token"), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.client.Do(req)
}

func (t *httpTransport) FetchJWKS(ctx context.Context, peerBaseURL string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinPath(peerBaseURL, "/.well-known/jwks.json"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching JWKS from %s: unexpected status %d", peerBaseURL, resp.StatusCode)
	}
	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, err
	}
	return &keySet, nil
}

func joinPath(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
