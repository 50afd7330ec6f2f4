package delivery

import (
	"fmt"
	"net/http"
	"strings"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
)

// Auth types accepted by Auth.Type.
const (
	AuthNone   = ""
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// Auth describes the credentials attached to every request.
type Auth struct {
	Type     string
	Token    string
	Username string
	Password string
}

func (a Auth) validate() error {
	switch strings.ToLower(a.Type) {
	case AuthNone, AuthBearer, AuthBasic:
		return nil
	default:
		return fmt.Errorf("%w: %q", errspkg.ErrUnsupportedAuthType, a.Type)
	}
}

// Apply sets the Authorization header on req.
func (a Auth) Apply(req *http.Request) {
	switch strings.ToLower(a.Type) {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	}
}

// JoinURL concatenates base and endpoint with exactly one "/" between them.
func JoinURL(base, endpoint string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
