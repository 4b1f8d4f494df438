// Package stages provides reusable pipeline stages for connector
// routes. Authentication stays user-supplied; these factories are the
// stock implementations.
package stages

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jsonrpcsuite/jrs/pkg/connector"
	"github.com/jsonrpcsuite/jrs/pkg/rpc"
)

// BearerOption configures a bearer stage.
type BearerOption func(*bearerStage)

// WithTokenField changes the params field the token is read from
// (default "token").
func WithTokenField(name string) BearerOption {
	return func(s *bearerStage) { s.field = name }
}

// WithClaims attaches a claims check run after signature validation.
func WithClaims(check func(claims jwt.MapClaims) error) BearerOption {
	return func(s *bearerStage) { s.check = check }
}

type bearerStage struct {
	keyfunc jwt.Keyfunc
	field   string
	check   func(claims jwt.MapClaims) error
}

var errUnauthorized = &rpc.Error{Code: 401, Message: "Unauthorized"}

// BearerAuth builds a before-stage that validates a JWT carried in the
// request params. The data passes through unchanged on success.
func BearerAuth(keyfunc jwt.Keyfunc, opts ...BearerOption) connector.HandlerFunc {
	s := &bearerStage{keyfunc: keyfunc, field: "token"}
	for _, o := range opts {
		o(s)
	}
	return func(ctx context.Context, data any) (any, error) {
		params, ok := data.(map[string]any)
		if !ok {
			return nil, errUnauthorized
		}
		raw, _ := params[s.field].(string)
		if raw == "" {
			return nil, errUnauthorized
		}
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, s.keyfunc)
		if err != nil || !token.Valid {
			return nil, errUnauthorized
		}
		if s.check != nil {
			if err := s.check(claims); err != nil {
				return nil, errUnauthorized
			}
		}
		return nil, nil
	}
}
