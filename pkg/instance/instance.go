package instance

import (
	"os"

	"github.com/angelmondragon/payments-core/pkg/env"
)

const fallbackID = "worker-0"

// ID identifies this process in logs. PAYMENTS_INSTANCE_ID wins, then the hostname.
func ID() string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
