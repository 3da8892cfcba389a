package tracing

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpan_NoTracer(t *testing.T) {
	SetTracer(nil)
	ctx, span := StartSpan(context.Background(), "tracing.Test")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.Equal(t, "", GetTraceID(ctx))
	assert.Equal(t, "", GetSpanID(ctx))
}

func TestSetup(t *testing.T) {
	t.Run("none installs nothing", func(t *testing.T) {
		SetTracer(nil)
		shutdown, err := Setup(context.Background(), Config{ServiceName: "sorrel"}, ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}))
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
		assert.Nil(t, tracer)
	})

	t.Run("log exporter installs a tracer", func(t *testing.T) {
		log := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})

		shutdown, err := Setup(context.Background(), Config{ServiceName: "sorrel", Exporter: "log"}, log)
		require.NoError(t, err)
		defer SetTracer(nil)

		ctx, span := StartSpan(context.Background(), "tracing.Test")
		assert.NotEqual(t, "", GetTraceID(ctx))
		assert.NotEqual(t, "", GetSpanID(ctx))
		span.End()

		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := Setup(context.Background(), Config{Exporter: "zipkin"}, ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}))
		assert.Error(t, err)
	})
}
