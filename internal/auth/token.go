package auth

import (
	"os"
	"strings"
)

// TokenProvider supplies the bearer token for backend requests. An
// empty token means the installation is unauthenticated; callers skip
// the network call in that case rather than treating it as an error.
type TokenProvider interface {
	Token() string
}

// FileProvider reads the token from a file on every call, so a login
// performed out of band is picked up without restarting the daemon. A
// missing or empty file yields an empty token.
type FileProvider struct {
	Path string
}

// Token returns the trimmed file contents, or empty when unavailable.
func (p *FileProvider) Token() string {
	if p.Path == "" {
		return ""
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// StaticProvider returns a fixed token. Used for tests and for tokens
// passed directly through configuration.
type StaticProvider struct {
	Value string
}

// Token returns the configured token.
func (p *StaticProvider) Token() string {
	return p.Value
}
