package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends every docmigrate collector to a Pushgateway under the given job.
// One-shot commands call it before exiting.
func Push(ctx context.Context, url, job string) error {
	p := push.New(url, job)
	for _, c := range Collectors() {
		p = p.Collector(c)
	}

	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}

	return nil
}
