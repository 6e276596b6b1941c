package realtime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/realtime"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func tokenAuth(token string) (ledger.UserID, error) {
	switch token {
	case "u1":
		return 1, nil
	case "u2":
		return 2, nil
	}
	return 0, errors.New("bad token")
}

func serveHub(t *testing.T, hub *realtime.Hub) *httptest.Server {
	srv := httptest.NewServer(hub.Handler(tokenAuth))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	ws, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func receive(t *testing.T, ws *websocket.Conn) string {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(ws, &msg))
	return msg
}

func waitConnected(t *testing.T, hub *realtime.Hub, user ledger.UserID, n int) {
	assert.Eventually(t, func() bool { return hub.Count(user) == n }, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// HUB
// =============================================================================

func TestHub_DeliversToUserGroupOnly(t *testing.T) {
	// GIVEN: Two sockets for user 1 and one for user 2
	// WHEN: Broadcasting to user 1
	// THEN: Both user 1 sockets receive the frame, user 2 does not

	hub := realtime.NewHub(nil)
	srv := serveHub(t, hub)

	a := dial(t, srv, "u1")
	b := dial(t, srv, "u1")
	other := dial(t, srv, "u2")
	waitConnected(t, hub, 1, 2)
	waitConnected(t, hub, 2, 1)

	require.NoError(t, hub.Broadcast(context.Background(), 1, []byte(`{"id":1}`)))
	assert.JSONEq(t, `{"id":1}`, receive(t, a))
	assert.JSONEq(t, `{"id":1}`, receive(t, b))

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var msg string
	assert.Error(t, websocket.Message.Receive(other, &msg))
}

func TestHub_NoSocketsIsNotAnError(t *testing.T) {
	hub := realtime.NewHub(nil)
	assert.NoError(t, hub.Broadcast(context.Background(), 99, []byte(`{}`)))
}

func TestHub_RejectsBadToken(t *testing.T) {
	hub := realtime.NewHub(nil)
	srv := serveHub(t, hub)

	resp, err := http.Get(srv.URL + "/?token=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := realtime.NewHub(nil)
	srv := serveHub(t, hub)

	ws := dial(t, srv, "u1")
	waitConnected(t, hub, 1, 1)

	ws.Close()
	waitConnected(t, hub, 1, 0)
}

// =============================================================================
// REDIS RELAY
// =============================================================================

func TestRedisRelay_CrossInstanceDelivery(t *testing.T) {
	// GIVEN: Two instances sharing Redis, the client is connected to B
	// WHEN: Instance A broadcasts
	// THEN: The client on B receives the frame exactly once

	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	hubA, hubB := realtime.NewHub(nil), realtime.NewHub(nil)
	relayA := realtime.NewRedisRelay(hubA, newClient(), "test", nil)
	relayB := realtime.NewRedisRelay(hubB, newClient(), "test", nil)
	ctx := context.Background()
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	t.Cleanup(relayA.Stop)
	t.Cleanup(relayB.Stop)

	srvB := serveHub(t, hubB)
	ws := dial(t, srvB, "u1")
	waitConnected(t, hubB, 1, 1)

	require.NoError(t, relayA.Broadcast(ctx, 1, []byte(`{"id":7}`)))
	assert.JSONEq(t, `{"id":7}`, receive(t, ws))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var dup string
	assert.Error(t, websocket.Message.Receive(ws, &dup))
}

func TestRedisRelay_LocalDeliveryWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	hub := realtime.NewHub(nil)
	relay := realtime.NewRedisRelay(hub, client, "test", nil)
	srv := serveHub(t, hub)
	ws := dial(t, srv, "u1")
	waitConnected(t, hub, 1, 1)

	mr.Close()
	err := relay.Broadcast(context.Background(), 1, []byte(`{"id":1}`))
	assert.Error(t, err)
	assert.JSONEq(t, `{"id":1}`, receive(t, ws))
}
