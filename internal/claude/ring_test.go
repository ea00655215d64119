package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingRejectsEmpty(t *testing.T) {
	_, err := NewRing(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")
}

func TestNewRingRejectsMissingAuth(t *testing.T) {
	_, err := NewRing([]Credential{{Model: "claude-sonnet-4-5"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no apiKey or authToken")
}

func TestRotation(t *testing.T) {
	ring, err := NewRing([]Credential{
		{APIKey: "key-a"},
		{APIKey: "key-b"},
		{APIKey: "key-c"},
	})
	require.NoError(t, err)

	assert.Equal(t, "key-a", ring.Current().APIKey)
	assert.Equal(t, "key-b", ring.RotateOnRateLimit().APIKey)
	assert.Equal(t, "key-c", ring.RotateOnRateLimit().APIKey)
	// Wraps around.
	assert.Equal(t, "key-a", ring.RotateOnRateLimit().APIKey)
	assert.Equal(t, 0, ring.Cursor())
}

func TestRingOfOneRotatesToItself(t *testing.T) {
	ring, err := NewRing([]Credential{{APIKey: "only"}})
	require.NoError(t, err)

	assert.Equal(t, "only", ring.RotateOnRateLimit().APIKey)
	assert.Equal(t, "only", ring.Current().APIKey)
}

func TestParseRing(t *testing.T) {
	configs := `[
		{"apiKey": "sk-direct"},
		{"env": {"apiKey": "sk-env"}, "model": "claude-sonnet-4-5"},
		{"env": {"authToken": "oauth-token"}, "baseUrl": "https://proxy.example.com"}
	]`

	ring, err := ParseRing(configs)
	require.NoError(t, err)
	require.Equal(t, 3, ring.Len())

	first := ring.Current()
	assert.Equal(t, "sk-direct", first.APIKey)

	second := ring.RotateOnRateLimit()
	assert.Equal(t, "sk-env", second.APIKey)
	assert.Equal(t, "claude-sonnet-4-5", second.Model)

	third := ring.RotateOnRateLimit()
	assert.Equal(t, "oauth-token", third.AuthToken)
	assert.Equal(t, "https://proxy.example.com", third.BaseURL)
}

func TestParseRingRejectsBadInput(t *testing.T) {
	_, err := ParseRing("")
	assert.Error(t, err)

	_, err = ParseRing("not json")
	assert.Error(t, err)

	_, err = ParseRing(`[{"model": "no-auth"}]`)
	assert.Error(t, err)

	_, err = ParseRing(`[]`)
	assert.Error(t, err)
}

func TestCredentialEnv(t *testing.T) {
	env := Credential{
		APIKey:  "sk-x",
		Model:   "claude-sonnet-4-5",
		BaseURL: "https://proxy",
	}.Env()

	assert.Equal(t, "sk-x", env["ANTHROPIC_API_KEY"])
	assert.Equal(t, "claude-sonnet-4-5", env["ANTHROPIC_MODEL"])
	assert.Equal(t, "https://proxy", env["ANTHROPIC_BASE_URL"])
	_, hasToken := env["ANTHROPIC_AUTH_TOKEN"]
	assert.False(t, hasToken)
}
