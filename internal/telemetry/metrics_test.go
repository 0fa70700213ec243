package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestGetMetrics_recordsToGlobalProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m := GetMetrics()
	require.Same(t, m, GetMetrics())

	ctx := context.Background()
	m.BuildsTotal.Add(ctx, 2)
	m.AssetsWrittenTotal.Add(ctx, 1)
	m.ReloadClients.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		require.Equal(t, instrumentationName, sm.Scope.Name)
		for _, md := range sm.Metrics {
			got[md.Name] = true
		}
	}
	require.True(t, got["appbundle.builds.total"])
	require.True(t, got["appbundle.assets.written.total"])
	require.True(t, got["appbundle.devserver.reload_clients"])
}

func TestStart_disabled(t *testing.T) {
	stop := Start(context.Background(), false, "appbundle", "test", zerolog.Nop())
	require.NotNil(t, stop)
	stop()
}
