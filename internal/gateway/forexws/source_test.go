package forexws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	ticks := []tick{
		{epoch: 60, quote: 1.10},
		{epoch: 75, quote: 1.15},
		{epoch: 90, quote: 1.05},
		{epoch: 119, quote: 1.12},
		{epoch: 120, quote: 1.20},
		{epoch: 130, quote: 1.18},
	}
	candles := aggregate(ticks, 60)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, int64(60_000), first.OpenTime)
	assert.Equal(t, int64(119_999), first.CloseTime)
	assert.Equal(t, 1.10, first.Open)
	assert.Equal(t, 1.15, first.High)
	assert.Equal(t, 1.05, first.Low)
	assert.Equal(t, 1.12, first.Close)
	assert.Equal(t, int64(4), first.Trades)

	second := candles[1]
	assert.Equal(t, int64(120_000), second.OpenTime)
	assert.Equal(t, 1.20, second.Open)
	assert.Equal(t, 1.18, second.Close)
}

func TestAggregateUnorderedTicks(t *testing.T) {
	ticks := []tick{
		{epoch: 130, quote: 1.2},
		{epoch: 60, quote: 1.1},
	}
	candles := aggregate(ticks, 60)
	require.Len(t, candles, 2)
	assert.Less(t, candles[0].OpenTime, candles[1].OpenTime)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	src, err := New(Config{WSURL: "wss://example.test/ws"})
	require.NoError(t, err)
	assert.Equal(t, "forexws", src.Name())
	assert.False(t, src.IsConnected())
}
