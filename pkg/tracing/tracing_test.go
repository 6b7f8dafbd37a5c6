package tracing

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/pkg/configuration"
)

func TestSetup_Disabled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	shutdown := Setup(context.Background(), logger, configuration.OpenTelemetryOptions{Enabled: false})
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
	require.Empty(t, hook.AllEntries())
}

func TestSetup_Enabled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	shutdown := Setup(context.Background(), logger, configuration.OpenTelemetryOptions{
		Enabled:     true,
		TempoURL:    "localhost:4318",
		ServiceName: "cveteval-test",
	})
	require.NotNil(t, shutdown)
	require.Equal(t, "OpenTelemetry tracing enabled", hook.LastEntry().Message)
	require.NoError(t, shutdown(context.Background()))
}
