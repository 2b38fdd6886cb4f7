package main

import (
	"context"

	applogging "gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/metrics"
)

const metricsNamespace = "staffsync"

// serveMetrics serves /metrics on addr until ctx is done. An empty addr
// disables the server.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger applogging.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	return metrics.NewServer(addr, m, logger.WithField("component", "metrics")).Run(ctx)
}
