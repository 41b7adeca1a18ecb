package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/screening-bot/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubBroadcastsChanges(t *testing.T) {
	hub := NewHub([]string{"*"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return hub.Clients() == 1 })

	require.NoError(t, hub.Apply(ctx, []domain.Change{
		{ID: "c1", Kind: domain.ChangeFlagRecorded, CandidateID: 4, Data: map[string]any{"code": "too_short_voice"}},
	}))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "change", msg.Type)
	assert.Equal(t, domain.ChangeFlagRecorded, msg.Change.Kind)
	assert.Equal(t, int64(4), msg.Change.CandidateID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub([]string{"https://review.example.com"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestApplyWithoutClients(t *testing.T) {
	hub := NewHub(nil, nil)
	assert.NoError(t, hub.Apply(context.Background(), []domain.Change{{ID: "x"}}))
	assert.Equal(t, "feed", hub.Name())
}
