package instance

import (
	"os"

	"github.com/angelmondragon/txnflow/pkg/env"
)

// GetID returns the process instance identifier. Gateway subscriptions are
// local to one instance, so log lines carry it.
func GetID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return env.FirstOf(host, "TXNFLOW_INSTANCE_ID", "DYNO")
}
