package warehouse

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Lister lists the warehouses visible to the caller.
type Lister interface {
	List(ctx context.Context) ([]Warehouse, error)
}

// NameResolver maps a warehouse name to its ID.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (id string, found bool, err error)
}

// Resolver finds warehouses by exact name.
type Resolver struct {
	lister Lister
	log    *zap.Logger
}

var _ NameResolver = (*Resolver)(nil)

// NewResolver creates a Resolver backed by l.
func NewResolver(l Lister, log *zap.Logger) *Resolver {
	return &Resolver{lister: l, log: log}
}

// Resolve returns the ID of the first warehouse whose name equals name.
// A failed listing is logged and returned rather than reported as a miss.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool, error) {
	warehouses, err := r.lister.List(ctx)
	if err != nil {
		fields := []zap.Field{zap.String("name", name), zap.Error(err)}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			fields = append(fields, zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
		}
		r.log.Warn("warehouse lookup failed", fields...)
		return "", false, fmt.Errorf("resolve warehouse %q: %w", name, err)
	}
	for _, w := range warehouses {
		if w.Name == name {
			return w.ID, true, nil
		}
	}
	return "", false, nil
}
