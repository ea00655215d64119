package claude

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Credential is one provider credential. At least one of APIKey or AuthToken
// must be present; Model and BaseURL are optional overrides.
type Credential struct {
	APIKey    string
	AuthToken string
	Model     string
	BaseURL   string
}

// HasAuth reports whether the credential carries usable auth material.
func (c Credential) HasAuth() bool {
	return c.APIKey != "" || c.AuthToken != ""
}

// Env renders the credential as the environment variables the CLI reads.
func (c Credential) Env() map[string]string {
	env := make(map[string]string, 4)
	if c.APIKey != "" {
		env["ANTHROPIC_API_KEY"] = c.APIKey
	}
	if c.AuthToken != "" {
		env["ANTHROPIC_AUTH_TOKEN"] = c.AuthToken
	}
	if c.Model != "" {
		env["ANTHROPIC_MODEL"] = c.Model
	}
	if c.BaseURL != "" {
		env["ANTHROPIC_BASE_URL"] = c.BaseURL
	}
	return env
}

// credentialConfig is the wire shape of one entry in the claude-configs
// input: auth either inline or under env.
type credentialConfig struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
	BaseURL string `json:"baseUrl"`
	Env    struct {
		APIKey    string `json:"apiKey"`
		AuthToken string `json:"authToken"`
	} `json:"env"`
}

// Ring is an ordered list of provider credentials with a rotation cursor.
// Rotation happens on rate limits only; the cursor survives for the length
// of one reactor invocation.
type Ring struct {
	mu     sync.Mutex
	creds  []Credential
	cursor int
}

// NewRing constructs a ring, rejecting empty rings and entries without auth
// material.
func NewRing(creds []Credential) (*Ring, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("credential ring must contain at least one credential")
	}
	for i, c := range creds {
		if !c.HasAuth() {
			return nil, fmt.Errorf("credential %d has no apiKey or authToken", i)
		}
	}
	return &Ring{creds: creds}, nil
}

// ParseRing builds a ring from the claude-configs JSON array.
func ParseRing(configJSON string) (*Ring, error) {
	if configJSON == "" {
		return nil, fmt.Errorf("claude-configs must not be empty")
	}

	var raw []credentialConfig
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return nil, fmt.Errorf("parse claude-configs: %w", err)
	}

	creds := make([]Credential, 0, len(raw))
	for _, rc := range raw {
		cred := Credential{
			APIKey:    rc.APIKey,
			AuthToken: rc.Env.AuthToken,
			Model:     rc.Model,
			BaseURL:   rc.BaseURL,
		}
		if cred.APIKey == "" {
			cred.APIKey = rc.Env.APIKey
		}
		creds = append(creds, cred)
	}

	return NewRing(creds)
}

// Current returns the credential at the cursor.
func (r *Ring) Current() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[r.cursor]
}

// RotateOnRateLimit advances the cursor modulo length and returns the new
// credential. A ring of size one returns the same credential.
func (r *Ring) RotateOnRateLimit() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = (r.cursor + 1) % len(r.creds)
	return r.creds[r.cursor]
}

// Len returns the number of credentials.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}

// Cursor returns the current cursor position.
func (r *Ring) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}
