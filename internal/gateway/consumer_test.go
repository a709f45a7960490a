package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerMalformedMessageDoesNotBlockNext(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewGatewayMetrics(reg)
	hub := NewHub(logger.Nop(), m)
	c := &Consumer{hub: hub, logg: logger.Nop(), metrics: m}

	a := connect(hub, "A")[0]
	require.NoError(t, hub.Subscribe(context.Background(), "A", SubscriptionRequest{TransactionID: "T"}))

	env := testEvent(t, "T", "u1")
	valid, err := env.Marshal()
	require.NoError(t, err)

	assert.Equal(t, 0, c.process(context.Background(), []byte(`{"type":`)))
	assert.Equal(t, 0, c.process(context.Background(), []byte(`{"id":"x","type":"txn.Unknown","transactionId":"T"}`)))
	assert.Equal(t, 1, c.process(context.Background(), valid))

	pushed := a.framesNamed(FrameEvent)
	require.Len(t, pushed, 1)

	series, err := testutil.GatherAndCount(reg, "txnflow_gateway_malformed_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestConsumerSkipsUnregisteredVersion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewGatewayMetrics(reg)
	hub := NewHub(logger.Nop(), m)
	c := &Consumer{hub: hub, logg: logger.Nop(), metrics: m}

	a := connect(hub, "A")[0]
	require.NoError(t, hub.Subscribe(context.Background(), "A", SubscriptionRequest{TransactionID: "T"}))

	env := testEvent(t, "T", "u1")
	env.Version = 2
	data, err := env.Marshal()
	require.NoError(t, err)

	assert.Equal(t, 0, c.process(context.Background(), data))
	assert.Empty(t, a.framesNamed(FrameEvent))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP txnflow_gateway_malformed_messages_total Bus messages skipped because they failed to parse.
# TYPE txnflow_gateway_malformed_messages_total counter
txnflow_gateway_malformed_messages_total 1
`), "txnflow_gateway_malformed_messages_total"))
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer(nil, NewHub(nil, nil), nil, logger.Nop())
	require.Error(t, err)
}
