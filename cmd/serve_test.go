package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedTestBrand(t *testing.T, st store.Store) *model.Brand {
	t.Helper()

	b, err := st.UpsertBrand(context.Background(), model.Brand{
		DisplayName:  "Luna Beauty",
		Summary:      "Skincare lokal",
		URL:          "https://lunabeauty.id",
		SizeTier:     model.SizeUnknown,
		DiscoveredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return b
}

func TestBuildRouter_HealthEndpoint(t *testing.T) {
	st := newTestStore(t)

	r := buildRouter(context.Background(), st, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleListBrands(t *testing.T) {
	st := newTestStore(t)
	seedTestBrand(t, st)

	req := httptest.NewRequest(http.MethodGet, "/brands", nil)
	rr := httptest.NewRecorder()
	handleListBrands(st)(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Brands []model.Brand `json:"brands"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Brands, 1)
	assert.Equal(t, "Luna Beauty", resp.Brands[0].DisplayName)
}

func TestHandleBrandContacts_NotFound(t *testing.T) {
	st := newTestStore(t)

	r := buildRouter(context.Background(), st, nil)
	req := httptest.NewRequest(http.MethodGet, "/brands/nope/contacts", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "brand not found")
}

func TestHandleBrandContacts_Found(t *testing.T) {
	st := newTestStore(t)
	b := seedTestBrand(t, st)

	_, err := st.UpsertContact(context.Background(), model.Contact{
		BrandKey:     b.Key,
		Channel:      model.ChannelPhone,
		Raw:          "0812-3456-789",
		Normalized:   "+628123456789",
		Verdict:      model.VerdictValid,
		Confidence:   0.6,
		DiscoveredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	r := buildRouter(context.Background(), st, nil)
	req := httptest.NewRequest(http.MethodGet, "/brands/"+url.PathEscape(b.Key)+"/contacts", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Brand    model.Brand     `json:"brand"`
		Contacts []model.Contact `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, b.Key, resp.Brand.Key)
	require.Len(t, resp.Contacts, 1)
	assert.Equal(t, "+628123456789", resp.Contacts[0].Normalized)
}

func TestHandleStats(t *testing.T) {
	st := newTestStore(t)
	seedTestBrand(t, st)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	handleStats(st)(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var stats model.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalBrands)
}

func TestHandleExport_CSV(t *testing.T) {
	st := newTestStore(t)
	seedTestBrand(t, st)

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	rr := httptest.NewRecorder()
	handleExport(st)(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	assert.Contains(t, lines[0], "brand_name")
}

func TestHandleDiscover_MissingTopic(t *testing.T) {
	st := newTestStore(t)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/discover", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handleDiscover(context.Background(), st)(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "topic is required")
}

func TestHandleSend_GatewayDisabled(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"contact_id": "c1"})
	req := httptest.NewRequest(http.MethodPost, "/outreach/send", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handleSend(nil)(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "gateway not configured")
}

func TestHandleBulk_GatewayDisabled(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"channel": "phone"})
	req := httptest.NewRequest(http.MethodPost, "/outreach/bulk", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handleBulk(nil)(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/brands?limit=5&offset=bad", nil)

	assert.Equal(t, 5, queryInt(req, "limit", 50))
	assert.Equal(t, 0, queryInt(req, "offset", 0))
	assert.Equal(t, 7, queryInt(req, "missing", 7))
}
