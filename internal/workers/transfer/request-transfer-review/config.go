// internal/workers/transfer/request-transfer-review/config.go
package requesttransferreview

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
