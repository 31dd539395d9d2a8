package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"puplink-authkit/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestDecoder_Decode_Success(t *testing.T) {
	exp := time.Now().Add(1 * time.Hour).Truncate(time.Second)
	raw := mintToken(t, jwt.MapClaims{
		"sub":       "user-u1",
		"iss":       "https://auth.puplink.example",
		"aud":       "puplink-app",
		"exp":       exp.Unix(),
		"token_use": "access",
		"username":  "maya",
		"email":     "maya@example.com",
	})

	claims, err := NewDecoder().Decode(raw)

	require.NoError(t, err)
	assert.Equal(t, "user-u1", claims.Subject)
	assert.Equal(t, "https://auth.puplink.example", claims.Issuer)
	assert.Equal(t, "puplink-app", claims.Audience)
	assert.Equal(t, "access", claims.TokenUse)
	assert.Equal(t, "maya", claims.Username)
	assert.Equal(t, "maya@example.com", claims.Email)
	assert.True(t, claims.ExpiresAt.Equal(exp))
}

func TestDecoder_Decode_PaddedPayload(t *testing.T) {
	// Some provider SDKs pad the base64url segments.
	header := base64.URLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.URLEncoding.EncodeToString([]byte(`{"sub":"user-u9"}`))
	raw := header + "." + payload + ".sig"

	claims, err := NewDecoder().Decode(raw)

	require.NoError(t, err)
	assert.Equal(t, "user-u9", claims.Subject)
}

func TestDecoder_Decode_SegmentCount(t *testing.T) {
	for _, raw := range []string{"", "onlyone", "two.segments", "a.b.c.d"} {
		_, err := NewDecoder().Decode(raw)
		assert.True(t, errors.Is(err, domain.ErrMalformedToken), "token %q", raw)
	}
}

func TestDecoder_Decode_BadPayload(t *testing.T) {
	// Middle segment is not base64url.
	_, err := NewDecoder().Decode("aGVhZGVy.!!!notbase64!!!.c2ln")
	assert.True(t, errors.Is(err, domain.ErrMalformedToken))

	// Middle segment decodes but is not JSON.
	payload := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	_, err = NewDecoder().Decode("aGVhZGVy." + payload + ".c2ln")
	assert.True(t, errors.Is(err, domain.ErrMalformedToken))
}

func TestDecoder_Decode_NoExpiry(t *testing.T) {
	raw := mintToken(t, jwt.MapClaims{"sub": "user-u2"})

	claims, err := NewDecoder().Decode(raw)

	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.IsZero())
	assert.False(t, claims.Expired(time.Now()))
}

func TestDecoder_Expired(t *testing.T) {
	d := NewDecoder()
	now := time.Now()

	live := mintToken(t, jwt.MapClaims{"sub": "u", "exp": now.Add(time.Hour).Unix()})
	stale := mintToken(t, jwt.MapClaims{"sub": "u", "exp": now.Add(-time.Hour).Unix()})

	assert.False(t, d.Expired(live, now))
	assert.True(t, d.Expired(stale, now))
	assert.True(t, d.Expired("garbage", now), "undecodable token counts as expired")
}
