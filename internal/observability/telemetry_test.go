package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTelemetry(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTelemetry(ctx, Options{
		ServiceName: "blockcodec-test",
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider(), "Глобальный провайдер должен быть заменён")

	// Без спанов экспорт не выполняется, коллектор не нужен
	require.NoError(t, shutdown(ctx))
}

func TestEndpointOrDefault(t *testing.T) {
	assert.Equal(t, "localhost:4318", endpointOrDefault(""))
	assert.Equal(t, "otel:4318", endpointOrDefault("otel:4318"))
}
