// internal/common/database/health.go
package database

import "context"

// Pinger is satisfied by every store worker-manager depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingAll pings each store and returns the failures keyed by name.
// An empty map means every store answered.
func PingAll(ctx context.Context, stores map[string]Pinger) map[string]string {
	failures := map[string]string{}
	for name, store := range stores {
		if err := store.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}
