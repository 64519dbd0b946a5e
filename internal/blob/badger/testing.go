package badger

import "go.uber.org/zap"

// OpenMemory opens an in-memory store for tests and the local profile.
// Caller must Close it.
func OpenMemory() (*Store, error) {
	return Open(Config{InMemory: true}, zap.NewNop())
}
