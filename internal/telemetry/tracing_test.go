package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/config"
)

func TestInitTracerProviderWithoutExporter(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), config.TracingConfig{ServiceName: "audit-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Tracer().Start(context.Background(), "phase.crawl")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}
