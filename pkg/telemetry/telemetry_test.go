// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func keepGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitDisabled(t *testing.T) {
	keepGlobalProvider(t)

	ctx := context.Background()
	tp, shutdown, err := Init(ctx, Options{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))

	_, ok := tp.(noop.TracerProvider)
	assert.True(t, ok, "expected noop.TracerProvider, got %T", tp)
}

func TestInitExporters(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantErr  bool
		wantReal bool
	}{
		{name: "none", opts: Options{Enabled: true, Exporter: ExporterNone}, wantReal: true},
		{name: "stdout", opts: Options{Enabled: true, Exporter: ExporterStdout, SamplingRate: 0.5}, wantReal: true},
		// The OTLP exporter connects lazily, so a non-routable endpoint still initializes.
		{name: "otlp", opts: Options{Enabled: true, Endpoint: "localhost:4317", Insecure: true}, wantReal: true},
		{name: "sampling rate clamped", opts: Options{Enabled: true, Exporter: ExporterNone, SamplingRate: 2}, wantReal: true},
		{name: "unknown exporter", opts: Options{Enabled: true, Exporter: "jaeger"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keepGlobalProvider(t)
			ctx := context.Background()
			tt.opts.Logger = zaptest.NewLogger(t).Sugar()

			tp, shutdown, err := Init(ctx, tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = shutdown(ctx) })

			_, isSDK := tp.(*sdktrace.TracerProvider)
			assert.Equal(t, tt.wantReal, isSDK)
			assert.Same(t, tp, otel.GetTracerProvider())
		})
	}
}

func TestSpansAreSampled(t *testing.T) {
	keepGlobalProvider(t)
	ctx := context.Background()

	tp, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: ExporterNone, SamplingRate: 1})
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	_, span := tp.Tracer("test").Start(ctx, "gateway.evaluate")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())
}

func TestShutdownTwice(t *testing.T) {
	keepGlobalProvider(t)
	ctx := context.Background()

	_, shutdown, err := Init(ctx, Options{Enabled: true, Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	_ = shutdown(ctx)
}
