package quotexws

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandles(t *testing.T) {
	t.Run("array rows", func(t *testing.T) {
		msg := gjson.Parse(`{"candles":[[60,1.1,1.2,1.0,1.15,42],[120,1.15,1.3,1.1,1.25]]}`)
		candles, err := parseCandles(msg, 60)
		require.NoError(t, err)
		require.Len(t, candles, 2)
		assert.Equal(t, int64(60_000), candles[0].OpenTime)
		assert.Equal(t, int64(119_999), candles[0].CloseTime)
		assert.Equal(t, 1.15, candles[0].Close)
		assert.Equal(t, 42.0, candles[0].Volume)
		assert.Equal(t, 0.0, candles[1].Volume)
	})

	t.Run("broker error surfaces", func(t *testing.T) {
		msg := gjson.Parse(`{"error":"asset closed"}`)
		_, err := parseCandles(msg, 60)
		assert.ErrorContains(t, err, "asset closed")
	})

	t.Run("missing or empty candles rejected", func(t *testing.T) {
		_, err := parseCandles(gjson.Parse(`{"request_id":"x"}`), 60)
		assert.Error(t, err)
		_, err = parseCandles(gjson.Parse(`{"candles":[]}`), 60)
		assert.Error(t, err)
		// 列数不足的行被跳过。
		_, err = parseCandles(gjson.Parse(`{"candles":[[60,1.1]]}`), 60)
		assert.Error(t, err)
	})
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	src, err := New(Config{WSURL: "wss://example.test/ws"})
	require.NoError(t, err)
	assert.Equal(t, "quotex", src.Name())
	assert.False(t, src.IsConnected())
}
