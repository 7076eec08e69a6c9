package wagateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/send-text", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "primary", payload["session"])
		assert.Equal(t, "6281234567890", payload["to"])
		assert.Equal(t, "Halo!", payload["text"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SendResponse{MessageID: "msg-1", Status: "sent"})
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, "primary")
	got, err := client.Send(context.Background(), "6281234567890", "Halo!")

	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.MessageID)
}

func TestSend_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`session restarting`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, "primary")
	_, err := client.Send(context.Background(), "6281234567890", "Halo!")

	require.Error(t, err)
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, se.Transient())
}

func TestSend_NonTransientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`invalid destination`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, "primary")
	_, err := client.Send(context.Background(), "not-a-number", "Halo!")

	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Transient())
}

func TestReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{"connected", http.StatusOK, `{"name":"primary","status":"connected"}`, true, false},
		{"scanning qr", http.StatusOK, `{"name":"primary","status":"scan_qr"}`, false, false},
		{"missing session", http.StatusNotFound, ``, false, false},
		{"server error", http.StatusInternalServerError, `boom`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/sessions/primary", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", srv.URL, "primary")
			got, err := client.Ready(context.Background())

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
