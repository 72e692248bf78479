package collaborators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tipwire/internal/core/domain"
)

type musicServer struct {
	mu       sync.Mutex
	enqueues []string // idempotency keys seen
}

func (m *musicServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"track": map[string]any{
				"id":      "trk_9",
				"title":   "Found Song",
				"artist":  "Artist",
				"markets": []string{"US", "CA"},
			},
		})
	})
	mux.HandleFunc("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"devices": []map[string]any{
				{"id": "dev_1", "name": "Studio", "active": true},
			},
		})
	})
	mux.HandleFunc("/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, seen := range m.enqueues {
			if seen == key {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		m.enqueues = append(m.enqueues, key)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v1/devices/dev_1/skip", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestClient(t *testing.T) (*MusicClient, *musicServer) {
	t.Helper()
	server := &musicServer{}
	ts := httptest.NewServer(server.handler())
	t.Cleanup(ts.Close)
	client := NewMusicClient(MusicClientConfig{
		BaseURL:           ts.URL,
		RequestsPerSecond: 1000,
		Burst:             1000,
	}, zaptest.NewLogger(t).Sugar())
	return client, server
}

func TestMusicClient_ResolveTrack(t *testing.T) {
	client, _ := newTestClient(t)

	track, err := client.ResolveTrack(context.Background(), "found")
	require.NoError(t, err)
	assert.Equal(t, "trk_9", track.ID)
	assert.Equal(t, []string{"US", "CA"}, track.Markets)

	_, err = client.ResolveTrack(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)
}

func TestMusicClient_ListDevices(t *testing.T) {
	client, _ := newTestClient(t)

	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].Active)
}

func TestMusicClient_EnqueueIdempotentReplay(t *testing.T) {
	client, server := newTestClient(t)

	require.NoError(t, client.Enqueue(context.Background(), "trk_9", "dev_1", "idem_1"))
	// Replaying the same key answers 409, treated as success.
	require.NoError(t, client.Enqueue(context.Background(), "trk_9", "dev_1", "idem_1"))

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Len(t, server.enqueues, 1, "second submit with same key is not applied twice")
}

func TestMusicClient_Skip(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.Skip(context.Background(), "dev_1"))
}
