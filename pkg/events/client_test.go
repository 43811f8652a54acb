package events_test

import (
	"context"
	"testing"

	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/stretchr/testify/assert"
)

// Engines hold a possibly-nil *Publisher and call it unconditionally; every
// method must be a safe no-op on nil.
func TestNilPublisherIsNoOp(t *testing.T) {
	ctx := context.Background()
	var p *events.Publisher

	p.Publish(ctx, events.ChannelTrades, map[string]any{"pair": "BTC-GLD"})
	p.Append(ctx, events.StreamTrades, map[string]any{"pair": "BTC-GLD"})
	assert.Nil(t, p.Subscribe(ctx, events.ChannelTrades))
	assert.NoError(t, p.Health(ctx))
	assert.NoError(t, p.Close())
}
