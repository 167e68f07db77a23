package instance

import "os"

// GetID returns the worker instance identifier used as the sweep lock owner.
func GetID() string {
	if id := os.Getenv("PAYFLOW_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
