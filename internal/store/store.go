// Package store provides the durable key/value document store backing the
// medication history. Two backends are available: a JSON file per key and
// a SQLite documents table.
package store

// Store persists opaque JSON documents under string keys. Load returns
// (nil, nil) when no document exists for the key.
type Store interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Close() error
}
