package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "windlass", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestDisabledProviderIsNoOpSafe(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordCheckout(ctx, AttrActorID.String("a1"))
	p.RecordSubmit(ctx)
	p.RecordGuardDecision(ctx, "ROUTE")
	p.RecordReclaim(ctx, 3)
	p.RecordDropped(ctx, 1)
	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "engine.checkout",
		attribute.String("windlass.role.id", "r1"))
	require.NotNil(t, ctx)
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "engine.submit")
	finish(errors.New("lease lost"))
}

func TestUOWOperationAttributes(t *testing.T) {
	attrs := UOWOperation("u1", "i1", "a1")
	require.Len(t, attrs, 3)
	require.Equal(t, AttrUOWID, attrs[0].Key)
	require.Equal(t, "u1", attrs[0].Value.AsString())
}
