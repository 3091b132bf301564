package jwt

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tplscan/tplscan/pkg/finding"
)

func buildToken(t *testing.T, header, claims map[string]any) string {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	c, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(h) + "." +
		base64.RawURLEncoding.EncodeToString(c) + ".fakesig"
}

func TestParse(t *testing.T) {
	raw := buildToken(t,
		map[string]any{"alg": "RS256", "typ": "JWT"},
		map[string]any{"sub": "user1", "exp": float64(1900000000)})

	tok, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, tok.Header)
	assert.Equal(t, "RS256", tok.Header.Alg)
	assert.Equal(t, "user1", tok.Claims["sub"])
}

func TestParseSegmentCount(t *testing.T) {
	_, err := Parse("only.two")
	assert.Error(t, err)
	_, err = Parse("a.b.c.d")
	assert.Error(t, err)
}

func TestParseToleratesGarbageSegments(t *testing.T) {
	tok, err := Parse("!!!!.????.sig")
	require.NoError(t, err)
	assert.Nil(t, tok.Header)
	assert.Nil(t, tok.Claims)
}

func TestExpired(t *testing.T) {
	past := buildToken(t, map[string]any{"alg": "HS256"},
		map[string]any{"exp": float64(time.Now().Unix() - 60)})
	future := buildToken(t, map[string]any{"alg": "HS256"},
		map[string]any{"exp": float64(time.Now().Unix() + 3600)})
	noExp := buildToken(t, map[string]any{"alg": "HS256"}, map[string]any{"sub": "x"})

	tok, _ := Parse(past)
	assert.True(t, tok.Expired())
	tok, _ = Parse(future)
	assert.False(t, tok.Expired())
	tok, _ = Parse(noExp)
	assert.False(t, tok.Expired())
}

func TestAnalyzeSecurity(t *testing.T) {
	t.Run("none algorithm is critical", func(t *testing.T) {
		tok, _ := Parse(buildToken(t, map[string]any{"alg": "none"}, map[string]any{"exp": float64(1), "iss": "x"}))
		issues := tok.AnalyzeSecurity()
		require.Len(t, issues, 1)
		assert.Equal(t, "none-algorithm", issues[0].Kind)
		assert.Equal(t, finding.Critical, issues[0].Severity)
	})

	t.Run("HS256 with kid flags key confusion", func(t *testing.T) {
		tok, _ := Parse(buildToken(t, map[string]any{"alg": "HS256", "kid": "key-1"},
			map[string]any{"exp": float64(1), "iss": "x"}))
		issues := tok.AnalyzeSecurity()
		require.Len(t, issues, 1)
		assert.Equal(t, "key-confusion", issues[0].Kind)
	})

	t.Run("missing exp and iss", func(t *testing.T) {
		tok, _ := Parse(buildToken(t, map[string]any{"alg": "RS256"}, map[string]any{"sub": "u"}))
		issues := tok.AnalyzeSecurity()
		kinds := make([]string, len(issues))
		for i, is := range issues {
			kinds[i] = is.Kind
		}
		assert.Contains(t, kinds, "missing-expiry")
		assert.Contains(t, kinds, "missing-issuer")
	})
}

func TestForgeNoneAlgorithm(t *testing.T) {
	raw := buildToken(t, map[string]any{"alg": "RS256", "typ": "JWT"}, map[string]any{"sub": "u"})
	tok, err := Parse(raw)
	require.NoError(t, err)

	forged, err := tok.ForgeNoneAlgorithm()
	require.NoError(t, err)

	parts := strings.Split(forged, ".")
	require.Len(t, parts, 3)
	assert.Empty(t, parts[2], "signature must be empty")
	assert.Equal(t, strings.Split(raw, ".")[1], parts[1], "claims segment must be reused byte-identical")

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	var h Header
	require.NoError(t, json.Unmarshal(headerJSON, &h))
	assert.Equal(t, "none", h.Alg)
}

func TestForgeAlgorithmConfusion(t *testing.T) {
	tok, err := Parse(buildToken(t, map[string]any{"alg": "RS256"}, map[string]any{"sub": "u"}))
	require.NoError(t, err)

	forged, err := tok.ForgeAlgorithmConfusion()
	require.NoError(t, err)

	parts := strings.Split(forged, ".")
	require.Len(t, parts, 3)
	assert.Equal(t, "SIGNATURE_PLACEHOLDER", parts[2])

	headerJSON, _ := base64.RawURLEncoding.DecodeString(parts[0])
	var h Header
	require.NoError(t, json.Unmarshal(headerJSON, &h))
	assert.Equal(t, "HS256", h.Alg)
}

func TestForgeExpirationBypass(t *testing.T) {
	raw := buildToken(t, map[string]any{"alg": "HS256"},
		map[string]any{"exp": float64(time.Now().Unix() - 100)})
	tok, err := Parse(raw)
	require.NoError(t, err)

	forged, err := tok.ForgeExpirationBypass()
	require.NoError(t, err)

	parts := strings.Split(forged, ".")
	require.Len(t, parts, 3)
	assert.Equal(t, strings.Split(raw, ".")[0], parts[0], "header segment must be reused")
	assert.Equal(t, "SIGNATURE_MODIFIED", parts[2])

	claimsJSON, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var claims map[string]any
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	exp := int64(claims["exp"].(float64))
	assert.Greater(t, exp, time.Now().Unix()+360*24*3600)
}

func TestForgePrivilegeEscalation(t *testing.T) {
	tok, err := Parse(buildToken(t, map[string]any{"alg": "HS256"},
		map[string]any{"sub": "u", "role": "user"}))
	require.NoError(t, err)

	forged, err := tok.ForgePrivilegeEscalation()
	require.NoError(t, err)

	claimsJSON, _ := base64.RawURLEncoding.DecodeString(strings.Split(forged, ".")[1])
	var claims map[string]any
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	assert.Equal(t, "admin", claims["role"])
	assert.Equal(t, true, claims["is_admin"])
	assert.Equal(t, []any{"admin", "superuser"}, claims["permissions"])
	assert.Equal(t, "u", claims["sub"], "original claims preserved")
}

func TestGenerateAttackPayloads(t *testing.T) {
	tok, err := Parse(buildToken(t, map[string]any{"alg": "RS256"}, map[string]any{"sub": "u"}))
	require.NoError(t, err)

	payloads := tok.GenerateAttackPayloads()
	require.Len(t, payloads, 4)

	names := make([]string, len(payloads))
	for i, p := range payloads {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"none-algorithm", "algorithm-confusion", "expiration-bypass", "privilege-escalation"}, names)

	bySeverity := make(map[string]finding.Severity, len(payloads))
	for _, p := range payloads {
		bySeverity[p.Name] = p.Severity
	}
	assert.Equal(t, finding.Critical, bySeverity["none-algorithm"])
	assert.Equal(t, finding.Critical, bySeverity["algorithm-confusion"])
	assert.Equal(t, finding.High, bySeverity["expiration-bypass"])
	assert.Equal(t, finding.Critical, bySeverity["privilege-escalation"])
}

func TestGenerateAttackPayloadsSkipsUndecodable(t *testing.T) {
	tok, err := Parse("!!!!.????.sig")
	require.NoError(t, err)
	assert.Empty(t, tok.GenerateAttackPayloads())
}
