package federation

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMintFederationJWT_ClaimsMatchWireShape(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token, err := mintFederationJWT("s3cret", "USA", "GBR", now)
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3, "a compact JWS has three dot-separated segments")

	payload := decodeJWSPayload(t, token)
	var claims federationClaims
	require.NoError(t, json.Unmarshal(payload, &claims))

	require.Equal(t, "USA", claims.Issuer)
	require.Equal(t, "USA-federation-service", claims.Subject)
	require.Equal(t, "GBR", claims.Audience)
	require.Equal(t, "USA", claims.Realm)
	require.Equal(t, now.Unix(), claims.IssuedAt)
	require.Equal(t, now.Add(5*time.Minute).Unix(), claims.ExpiresAt)
	require.ElementsMatch(t, []string{"push", "pull"}, claims.Capabilities)
}

func TestMintFederationJWT_DifferentSecretsProduceDifferentSignatures(t *testing.T) {
	now := time.Now
	tokenA, err := mintFederationJWT("secret-a", "USA", "GBR", now())
	require.NoError(t, err)
	tokenB, err := mintFederationJWT("secret-b", "USA", "GBR", now())
	require.NoError(t, err)
	require.NotEqual(t, tokenA, tokenB)
}

func decodeJWSPayload(t *testing.T, compact string) []byte {
	t.Helper()
	parts := strings.Split(compact, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	return payload
}
