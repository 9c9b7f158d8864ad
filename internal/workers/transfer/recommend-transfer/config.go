// internal/workers/transfer/recommend-transfer/config.go
package recommendtransfer

import "time"

type Config struct {
	Timeout time.Duration
}

// LoadConfig leaves room for four model calls plus collaborator lookups.
func LoadConfig() *Config {
	return &Config{
		Timeout: 5 * time.Minute,
	}
}
