package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpointIsNoop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := Init(context.Background(), "", logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_SetsAttributes(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span", RuleType("login"), UserID("u1"))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}
