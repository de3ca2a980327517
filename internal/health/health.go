// Package health provides health check implementations for external dependencies.
package health

import "context"

// Checker reports whether a dependency is reachable and serving.
type Checker interface {
	HealthCheck(ctx context.Context) error
}
