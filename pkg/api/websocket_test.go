package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampatterns/streampatterns/pkg/events"
)

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dlq-events" + query
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var evt events.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestEventFeed_GreetsOnConnect(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	greeting := readEvent(t, conn)
	assert.Equal(t, events.TypeInfo, greeting.EventType)
	assert.Contains(t, greeting.Details, "Connected")
}

func TestEventFeed_DeliversBusEvents(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn) // greeting

	s.bus.Publish(events.Produced("orders.v1", "123-0", map[string]string{"orderId": "42"}))

	evt := readEvent(t, conn)
	assert.Equal(t, events.TypeMessageProduced, evt.EventType)
	assert.Equal(t, "orders.v1", evt.StreamName)
	assert.Equal(t, "123-0", evt.MessageID)
	assert.Equal(t, "42", evt.Payload["orderId"])
	assert.NotEmpty(t, evt.Timestamp)
}

func TestEventFeed_AppliesStreamFilter(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?streams=orders.*"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn) // greeting

	// The payments event must be filtered out, so the orders event is the
	// next frame on the wire.
	s.bus.Publish(events.Produced("payments.captured", "1-0", nil))
	s.bus.Publish(events.Produced("orders.created", "2-0", nil))

	evt := readEvent(t, conn)
	assert.Equal(t, events.TypeMessageProduced, evt.EventType)
	assert.Equal(t, "orders.created", evt.StreamName)
}

func TestEventFeed_RejectsBadFilter(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?streams=orders.["), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	if conn != nil {
		conn.Close()
	}
	if resp != nil {
		assert.Equal(t, 400, resp.StatusCode)
		resp.Body.Close()
	}
}
