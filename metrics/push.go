package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob is the Pushgateway job name used by Push.
const PushJob = "pupsourcing_migrator"

// Push sends every registered metric to the Pushgateway at url, replacing the
// metrics previously pushed for the same job and instance. It is meant for
// short-lived processes such as the migrate command, which exit before a
// scrape could happen.
func Push(ctx context.Context, url, instance string) error {
	pusher := push.New(url, PushJob).Gatherer(prometheus.DefaultGatherer)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
