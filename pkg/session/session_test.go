package session

import (
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetCookie(t *testing.T) {
	t.Run("full attributes", func(t *testing.T) {
		c := ParseSetCookie("sessionid=abc123xyz; Path=/; Secure; HttpOnly; SameSite=Strict")
		require.NotNil(t, c)
		assert.Equal(t, "sessionid", c.Name)
		assert.Equal(t, "abc123xyz", c.Value)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.Secure)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, SameSiteStrict, c.SameSite)
	})

	t.Run("lenient with unknown attributes", func(t *testing.T) {
		c := ParseSetCookie("k=v; Priority=High; bogus")
		require.NotNil(t, c)
		assert.Equal(t, "k", c.Name)
		assert.Equal(t, "v", c.Value)
	})

	t.Run("malformed returns nil", func(t *testing.T) {
		assert.Nil(t, ParseSetCookie("no-equals-sign"))
		assert.Nil(t, ParseSetCookie("=value-without-name"))
	})
}

func TestStoreCookieReplacesByName(t *testing.T) {
	m := NewManager()
	m.StoreCookie("example.com", Cookie{Name: "token", Value: "old"})
	m.StoreCookie("example.com", Cookie{Name: "token", Value: "new"})
	m.StoreCookie("example.com", Cookie{Name: "other", Value: "x"})

	cookies := m.Cookies("example.com")
	require.Len(t, cookies, 2)
	assert.Equal(t, "new", cookies[0].Value)
}

func TestCookiesFilterExpired(t *testing.T) {
	m := NewManager()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	m.StoreCookie("example.com", Cookie{Name: "dead", Value: "1", Expires: &past})
	m.StoreCookie("example.com", Cookie{Name: "live", Value: "2", Expires: &future})

	cookies := m.Cookies("example.com")
	require.Len(t, cookies, 1)
	assert.Equal(t, "live", cookies[0].Name)
}

func TestCookieHeader(t *testing.T) {
	m := NewManager()
	_, ok := m.CookieHeader("example.com")
	assert.False(t, ok)

	m.StoreCookie("example.com", Cookie{Name: "a", Value: "1"})
	m.StoreCookie("example.com", Cookie{Name: "b", Value: "2"})
	header, ok := m.CookieHeader("example.com")
	require.True(t, ok)
	assert.Equal(t, "a=1; b=2", header)
}

func TestDomainsAreIsolated(t *testing.T) {
	m := NewManager()
	m.StoreCookie("a.example.com", Cookie{Name: "x", Value: "1"})
	assert.Empty(t, m.Cookies("b.example.com"))
}

func TestAnalyzeCookieSecurity(t *testing.T) {
	t.Run("weak session id rules", func(t *testing.T) {
		tests := []struct {
			name  string
			value string
			weak  bool
		}{
			{"short", "abc", true},
			{"all numeric", "12345678901234567890", true},
			{"low entropy", "aabbaabbaabbaabbaabb", true},
			{"strong", "f3kd92mcn48aqpz7w1xv", false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.weak, weakSessionID(tt.value))
			})
		}
	})

	t.Run("missing flags on session cookie", func(t *testing.T) {
		c := Cookie{Name: "PHPSESSID", Value: "123"}
		issues := c.AnalyzeSecurity(true)
		kinds := make([]string, len(issues))
		for i, is := range issues {
			kinds[i] = is.Kind
		}
		assert.Contains(t, kinds, "missing-secure")
		assert.Contains(t, kinds, "missing-httponly")
		assert.Contains(t, kinds, "weak-session-id")
		assert.Contains(t, kinds, "missing-samesite")
	})

	t.Run("well-configured cookie is clean", func(t *testing.T) {
		c := Cookie{
			Name: "sessionid", Value: "f3kd92mcn48aqpz7w1xv",
			Secure: true, HttpOnly: true, SameSite: SameSiteLax,
		}
		assert.Empty(t, c.AnalyzeSecurity(true))
	})

	t.Run("secure only relevant over https", func(t *testing.T) {
		c := Cookie{Name: "pref", Value: "dark", SameSite: SameSiteLax}
		assert.Empty(t, c.AnalyzeSecurity(false))
	})
}

func sampleJWT() string {
	h := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	c := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u"}`))
	return h + "." + c + ".sig"
}

func TestTokenStore(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetToken(DefaultTokenName, sampleJWT()))

	tok, ok := m.Token(DefaultTokenName)
	require.True(t, ok)
	assert.Equal(t, "HS256", tok.Header.Alg)

	auth, ok := m.AuthorizationHeader(DefaultTokenName)
	require.True(t, ok)
	assert.Equal(t, "Bearer "+sampleJWT(), auth)

	assert.Error(t, m.SetToken("bad", "not-a-jwt"))
}

func TestAnalyzeTokenSecurity(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetToken("api", sampleJWT()))
	issues := m.AnalyzeTokenSecurity()
	require.Contains(t, issues, "api")
	assert.NotEmpty(t, issues["api"]) // no exp, no iss
}

func TestVariables(t *testing.T) {
	m := NewManager()
	m.SetVariable("csrf", "tok123")
	v, ok := m.Variable("csrf")
	require.True(t, ok)
	assert.Equal(t, "tok123", v)

	_, ok = m.Variable("missing")
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewManager()
	m.StoreCookie("example.com", Cookie{Name: "sid", Value: "f3kd92mcn48aqpz7w1xv", Secure: true})
	require.NoError(t, m.SetToken(DefaultTokenName, sampleJWT()))
	m.SetVariable("stage", "post-login")

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, m.Save(path))

	restored := NewManager()
	require.NoError(t, restored.Load(path))

	cookies := restored.Cookies("example.com")
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)

	_, ok := restored.Token(DefaultTokenName)
	assert.True(t, ok)

	v, ok := restored.Variable("stage")
	require.True(t, ok)
	assert.Equal(t, "post-login", v)
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.StoreCookie("example.com", Cookie{Name: "a", Value: "1"})
	m.SetVariable("k", "v")
	m.Clear()
	assert.Empty(t, m.Cookies("example.com"))
	_, ok := m.Variable("k")
	assert.False(t, ok)
}
