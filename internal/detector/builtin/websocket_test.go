package builtin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/detector/builtin"
	"github.com/northboundlabs/botshield/internal/signal"
)

// handshakeOnlyServer accepts a real WebSocket upgrade via coder/websocket
// and closes immediately, simulating a client that only cares about
// completing the handshake (the signature of a connection-storm probe
// rather than a real streaming client).
func handshakeOnlyServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		_ = c.Close(websocket.StatusNormalClosure, "done")
	}))
}

func TestWebSocketStormDetector_ScenarioHarnessDrivesRealUpgrades(t *testing.T) {
	srv := handshakeOnlyServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]

	d := builtin.NewWebSocketStormDetector()
	sink := signal.NewSink(100)
	request := detector.RequestSnapshot{Signature: "storming-client", IsWebSocket: true}

	var lastContribs []detector.Contribution
	for i := 0; i < handshakeStormBurstSize; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		cancel()
		require.NoError(t, err)
		_ = conn.CloseNow()

		contribs, err := d.ContributeAsync(context.Background(), detector.State{Sink: sink, Request: request})
		require.NoError(t, err)
		if contribs != nil {
			lastContribs = contribs
		}
	}

	require.NotNil(t, lastContribs, "expected the storm threshold to trip within %d real upgrades", handshakeStormBurstSize)
	require.Equal(t, detector.BotTypeMaliciousBot, lastContribs[0].BotType)
	require.True(t, sink.Has("stream.handshake_storm"))
}

const handshakeStormBurstSize = 16

func TestWebSocketStormDetector_IgnoresNonWebSocketRequests(t *testing.T) {
	d := builtin.NewWebSocketStormDetector()
	sink := signal.NewSink(10)
	contribs, err := d.ContributeAsync(context.Background(), detector.State{
		Sink:    sink,
		Request: detector.RequestSnapshot{Signature: "plain-http", IsWebSocket: false},
	})
	require.NoError(t, err)
	require.Nil(t, contribs)
}
