package federation

import (
	"encoding/json"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const federationVersion = "1"
const federationTokenTTL = 5 * time.Minute

// federationClaims is the bearer minted for outbound federation calls
// (spec.md §6 "Federation JWT").
type federationClaims struct {
	Issuer      string   `json:"iss"`
	Subject     string   `json:"sub"`
	Audience    string   `json:"aud"`
	Realm       string   `json:"realm"`
	IssuedAt    int64    `json:"iat"`
	ExpiresAt   int64    `json:"exp"`
	Version     string   `json:"federationVersion"`
	Capabilities []string `json:"capabilities"`
}

// mintFederationJWT signs a short-lived HS256 bearer with secret, scoped
// to one outbound call to peerRealm (spec.md §6: "Short-lived (≤5 min)
// bearer ... Verified against the hub's published JWKS" — HS256 with a
// shared secret here since no per-peer asymmetric key is provisioned by
// this tree's config surface; see DESIGN.md Open Question decisions).
func mintFederationJWT(secret, localRealm, peerRealm string, now time.Time) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	if err != nil {
		return "", err
	}
	claims := federationClaims{
		Issuer:       localRealm,
		Subject:      localRealm + "-federation-service",
		Audience:     peerRealm,
		Realm:        localRealm,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(federationTokenTTL).Unix(),
		Version:      federationVersion,
		Capabilities: []string{"push", "pull"},
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return jws.CompactSerialize()
}
