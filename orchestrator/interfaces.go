package orchestrator

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type StatsHandler interface {
	SendPrometheus(PrometheusProvider) error
	SendWebhook(WebhookProvider) error
}

type PrometheusProvider interface {
	ToProm() []prometheus.Collector
}

type WebhookProvider interface {
	ToJSON() []byte
}

// Locker serialises runs against the same repository.
// Lock waits for runs of this process holding the key until ctx is done and
// fails if another process holds it. The returned function releases the key.
type Locker interface {
	Lock(ctx context.Context, key string) (release func() error, err error)
}
