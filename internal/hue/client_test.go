package hue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huestream/internal/color"
)

func newTestBridge(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(strings.TrimPrefix(srv.URL, "http://"), "user", 5*time.Second)
}

func TestClient_GroupAttributes(t *testing.T) {
	c := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/groups/5", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"name":"TV","lights":["3","4"],"type":"Entertainment","class":"TV"}`)
	})

	g, err := c.GroupAttributes(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "5", g.ID)
	assert.Equal(t, "TV", g.Name)
	assert.Equal(t, []string{"3", "4"}, g.Lights)
	assert.True(t, g.IsEntertainment())
}

func TestClient_GroupAttributes_InvalidID(t *testing.T) {
	c := NewClient("127.0.0.1:1", "user", time.Second)

	_, err := c.GroupAttributes(context.Background(), "tv")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestClient_SetStreaming(t *testing.T) {
	tests := []struct {
		name     string
		response string
		status   int
		want     bool
		wantErr  bool
	}{
		{
			name:     "confirmed",
			response: `[{"success":{"/groups/5/stream/active":true}}]`,
			status:   http.StatusOK,
			want:     true,
		},
		{
			name:     "not_confirmed",
			response: `[{"success":{"/groups/5/name":"TV"}}]`,
			status:   http.StatusOK,
			want:     false,
		},
		{
			name:     "api_error",
			response: `[{"error":{"type":307,"address":"/groups/5/stream/active","description":"Cannot claim stream ownership"}}]`,
			status:   http.StatusOK,
			wantErr:  true,
		},
		{
			name:     "http_error",
			response: `boom`,
			status:   http.StatusInternalServerError,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/api/user/groups/5", r.URL.Path)

				var body map[string]map[string]bool
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.True(t, body["stream"]["active"])

				w.WriteHeader(tt.status)
				io.WriteString(w, tt.response)
			})

			got, err := c.SetStreaming(context.Background(), "5", true)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_SetStreaming_APIErrorType(t *testing.T) {
	c := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"error":{"type":307,"address":"/groups/5/stream/active","description":"Cannot claim stream ownership"}}]`)
	})

	_, err := c.SetStreaming(context.Background(), "5", true)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 307, apiErr.Type)
}

func TestClient_Lights(t *testing.T) {
	c := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/lights", r.URL.Path)
		io.WriteString(w, `{
			"3": {"name":"Left","type":"Extended color light","capabilities":{"control":{"colorgamuttype":"C","colorgamut":[[0.6915,0.3083],[0.17,0.7],[0.1532,0.0475]]},"streaming":{"renderer":true}}},
			"4": {"name":"Right","type":"Color light","capabilities":{"control":{"colorgamuttype":"A"}}},
			"5": {"name":"Plug","type":"On/Off plug-in unit","capabilities":{"control":{}}}
		}`)
	})

	lights, err := c.Lights(context.Background())
	require.NoError(t, err)
	require.Len(t, lights, 3)

	assert.Equal(t, "3", lights["3"].ID)
	assert.True(t, lights["3"].Capabilities.Streaming.Renderer)
	assert.Equal(t, color.Point{X: 0.6915, Y: 0.3083}, lights["3"].Gamut().Red, "triangle wins")
	assert.Equal(t, color.GamutA, lights["4"].Gamut(), "gamut type fallback")
	assert.Equal(t, color.DefaultGamut, lights["5"].Gamut())
}

func TestClient_Groups(t *testing.T) {
	c := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/groups", r.URL.Path)
		io.WriteString(w, `{"1":{"name":"Living","type":"Room","lights":["1"]},"5":{"name":"TV","type":"Entertainment","lights":["3","4"],"stream":{"proxymode":"auto","active":false,"owner":null}}}`)
	})

	groups, err := c.Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	tv := groups["5"]
	assert.Equal(t, "5", tv.ID)
	assert.True(t, tv.IsEntertainment())
	require.NotNil(t, tv.Stream)
	assert.False(t, tv.Stream.Active)
	assert.False(t, (&Group{Type: "Room"}).IsEntertainment())
}
