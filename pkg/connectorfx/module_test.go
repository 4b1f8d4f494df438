package connectorfx

import (
	"context"
	"testing"

	"github.com/jsonrpcsuite/jrs/pkg/connector"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestModuleGraphIsValid(t *testing.T) {
	routes := connector.Routes{
		"echo": connector.HandlerFunc(func(ctx context.Context, data any) (any, error) {
			return data, nil
		}),
	}
	err := fx.ValidateApp(
		Module(
			WithService("test"),
			WithRoutes(routes, connector.Defaults{}),
			WithConnectorOptions(connector.AsMiddleware()),
		),
	)
	require.NoError(t, err)
}
