package pagereader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Success(t *testing.T) {
	t.Parallel()

	want := ReadResponse{
		Code: 200,
		Data: ReadData{
			Title:   "Sari Bumi Glow — Skincare Alami",
			URL:     "https://saribumiglow.id",
			Content: "Hubungi kami: 0812-3456-7890 atau email halo@saribumiglow.id",
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "text", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "/https://saribumiglow.id", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	got, err := client.Read(context.Background(), "https://saribumiglow.id")

	require.NoError(t, err)
	assert.Equal(t, want.Data.Title, got.Data.Title)
	assert.Contains(t, got.Data.Content, "0812-3456-7890")
}

func TestRead_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream unavailable`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	_, err := client.Read(context.Background(), "https://saribumiglow.id")

	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream unavailable", se.Body)
	assert.Contains(t, err.Error(), "502")
}

func TestRead_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`]]`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	_, err := client.Read(context.Background(), "https://saribumiglow.id")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
