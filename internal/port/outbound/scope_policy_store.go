package outbound

import (
	"context"

	"github.com/mcpgw/gateway/internal/domain/scope"
)

// ScopePolicyStore is the outbound port for loading and persisting the
// single ScopePolicy document. Save must write to every
// configured path before returning success.
type ScopePolicyStore interface {
	Load(ctx context.Context) (scope.Policy, error)
	Save(ctx context.Context, p scope.Policy) error
}
