package store

// StoreConfig is the configuration contract every backend config satisfies.
type StoreConfig interface {
	// GetTableName returns the table (or logical namespace) used by the backend
	GetTableName() string

	// GetTTL returns the default lock lease in seconds
	GetTTL() int32

	// GetEndpoints returns the backend endpoints
	GetEndpoints() []string

	// Validate ensures the configuration is usable
	Validate() error
}
