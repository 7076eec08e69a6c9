package outreach

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/store"
	"github.com/saribumi/brandreach/pkg/wagateway"
)

type fakeStore struct {
	pending  []store.PendingContact
	contacts map[string]*model.Contact
	brands   map[string]*model.Brand
	sent     map[string]bool

	records []model.OutreachRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: map[string]*model.Contact{},
		brands:   map[string]*model.Brand{},
		sent:     map[string]bool{},
	}
}

func (f *fakeStore) PendingContacts(_ context.Context, _ model.Channel, limit int, _ time.Duration) ([]store.PendingContact, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) SentWithin(_ context.Context, contactID string, _ time.Duration) (bool, error) {
	return f.sent[contactID], nil
}

func (f *fakeStore) AppendOutreach(_ context.Context, rec model.OutreachRecord) (*model.OutreachRecord, error) {
	rec.ID = fmt.Sprintf("rec-%d", len(f.records)+1)
	if rec.Attempt <= 0 {
		rec.Attempt = 1
		for _, r := range f.records {
			if r.ContactID == rec.ContactID {
				rec.Attempt++
			}
		}
	}
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now().UTC()
	}
	f.records = append(f.records, rec)
	return &rec, nil
}

func (f *fakeStore) GetContact(_ context.Context, id string) (*model.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeStore) GetBrand(_ context.Context, key string) (*model.Brand, error) {
	return f.brands[key], nil
}

type fakeSession struct {
	ready    bool
	readyErr error
	sendErr  error

	// failTimes limits how many calls fail with sendErr; zero means every
	// call fails while sendErr is set.
	failTimes int
	calls     int

	sends  []string
	bodies []string
	sentAt []time.Time
}

func (f *fakeSession) Send(_ context.Context, destination, body string) (*wagateway.SendResponse, error) {
	f.calls++
	if f.sendErr != nil && (f.failTimes == 0 || f.calls <= f.failTimes) {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, destination)
	f.bodies = append(f.bodies, body)
	f.sentAt = append(f.sentAt, time.Now())
	return &wagateway.SendResponse{MessageID: "m1", Status: "sent"}, nil
}

func (f *fakeSession) Ready(_ context.Context) (bool, error) {
	return f.ready, f.readyErr
}

func pendingContact(id, brandKey, normalized string) store.PendingContact {
	return store.PendingContact{
		Contact: model.Contact{
			ID:         id,
			BrandKey:   brandKey,
			Channel:    model.ChannelPhone,
			Normalized: normalized,
			Verdict:    model.VerdictValid,
			Confidence: 1.0,
		},
	}
}

func testConfig() Config {
	return Config{
		Cooldown:     24 * time.Hour,
		MaxRetries:   3,
		BatchSize:    20,
		RetryBackoff: time.Minute,
		SendTimeout:  5 * time.Second,
	}
}

func TestScheduler_RunBatch_UnknownTemplate(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	_, err := s.RunBatch(context.Background(), model.ChannelPhone, "nonexistent")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownTemplate))
	assert.Empty(t, session.sends)
	assert.Empty(t, st.records)
}

func TestScheduler_RunBatch_SessionNotReady(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{pendingContact("c-1", "brand x", "+6281111111111")}
	session := &fakeSession{ready: false}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	_, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSessionNotReady))
	assert.Empty(t, session.sends)
}

func TestScheduler_RunBatch_SendsOldestFirst(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{
		pendingContact("c-1", "brand x", "+6281111111111"),
		pendingContact("c-2", "brand y", "+6282222222222"),
	}
	st.brands["brand x"] = &model.Brand{Key: "brand x", DisplayName: "Brand X"}
	st.brands["brand y"] = &model.Brand{Key: "brand y", DisplayName: "Brand Y"}
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Eligible)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Failed)

	require.Len(t, session.sends, 2)
	assert.Equal(t, []string{"+6281111111111", "+6282222222222"}, session.sends)
	assert.Contains(t, session.bodies[0], "Halo Brand X!")

	require.Len(t, st.records, 2)
	assert.Equal(t, "c-1", st.records[0].ContactID)
	assert.Equal(t, model.OutcomeSent, st.records[0].Outcome)
	assert.Equal(t, "introduction", st.records[0].TemplateID)
}

func TestScheduler_RunBatch_SkipsDuplicateWithinCooldown(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{pendingContact("c-1", "brand x", "+6281111111111")}
	st.sent["c-1"] = true
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedDuplicate)
	assert.Equal(t, 0, report.Sent)
	assert.Empty(t, session.sends)

	require.Len(t, st.records, 1)
	assert.Equal(t, model.OutcomeSkippedDuplicate, st.records[0].Outcome)
}

func TestScheduler_RunBatch_ExcludesExhausted(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	exhausted := pendingContact("c-1", "brand x", "+6281111111111")
	exhausted.FailuresSinceSent = 3
	st.pending = []store.PendingContact{
		exhausted,
		pendingContact("c-2", "brand y", "+6282222222222"),
	}
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Exhausted)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, session.sends, 1)
	assert.Equal(t, "+6282222222222", session.sends[0])
}

func TestScheduler_RunBatch_DefersBackingOffContacts(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	failed := pendingContact("c-1", "brand x", "+6281111111111")
	failed.FailuresSinceSent = 2
	lastFailed := time.Now().UTC().Add(-90 * time.Second)
	failed.LastFailedAt = &lastFailed
	st.pending = []store.PendingContact{failed}
	session := &fakeSession{ready: true}
	// backoff doubles: 2 failures mean a 2 minute delay, only 90s elapsed.
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Empty(t, session.sends)
	assert.Empty(t, st.records)
}

func TestScheduler_RunBatch_WaitsAtMostOncePerBatch(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{
		pendingContact("c-1", "brand x", "+6281111111111"),
		pendingContact("c-2", "brand y", "+6282222222222"),
		pendingContact("c-3", "brand z", "+6283333333333"),
	}
	session := &fakeSession{ready: true}
	cfg := testConfig()
	cfg.MinInterval = 80 * time.Millisecond
	s := NewScheduler(st, session, DefaultCatalog(), cfg)

	start := time.Now()
	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)

	// First send uses the initial token, the second waits out the delay,
	// the third is skipped rate-limited.
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.SkippedRateLimited)
	require.Len(t, session.sentAt, 2)
	assert.GreaterOrEqual(t, session.sentAt[1].Sub(session.sentAt[0]), cfg.MinInterval)
	assert.GreaterOrEqual(t, time.Since(start), cfg.MinInterval)

	require.Len(t, st.records, 3)
	assert.Equal(t, model.OutcomeSkippedRateLimited, st.records[2].Outcome)
}

func TestScheduler_RunBatch_RecordsSendFailure(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{pendingContact("c-1", "brand x", "+6281111111111")}
	session := &fakeSession{ready: true, sendErr: eris.New("gateway timeout")}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Sent)

	require.Len(t, st.records, 1)
	assert.Equal(t, model.OutcomeFailed, st.records[0].Outcome)
	assert.Contains(t, st.records[0].ErrorDetail, "gateway timeout")
	assert.Equal(t, 1, session.calls)
}

func TestScheduler_RunBatch_RetriesTransientRejection(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{pendingContact("c-1", "brand x", "+6281111111111")}
	session := &fakeSession{
		ready:     true,
		sendErr:   &wagateway.SendError{Code: http.StatusServiceUnavailable, Body: "busy"},
		failTimes: 1,
	}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())
	s.sendRetry.InitialBackoff = time.Millisecond
	s.sendRetry.JitterFraction = 0

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, session.calls)

	require.Len(t, st.records, 1)
	assert.Equal(t, model.OutcomeSent, st.records[0].Outcome)
}

func TestScheduler_RunBatch_PermanentRejectionFailsFast(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{pendingContact("c-1", "brand x", "+6281111111111")}
	session := &fakeSession{
		ready:   true,
		sendErr: &wagateway.SendError{Code: http.StatusUnauthorized, Body: "session revoked"},
	}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	report, err := s.RunBatch(context.Background(), model.ChannelPhone, "introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, session.calls)

	require.Len(t, st.records, 1)
	assert.Equal(t, model.OutcomeFailed, st.records[0].Outcome)
	assert.Contains(t, st.records[0].ErrorDetail, "session revoked")
}

func TestScheduler_RunBatch_Cancellation(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.pending = []store.PendingContact{pendingContact("c-1", "brand x", "+6281111111111")}
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunBatch(ctx, model.ChannelPhone, "introduction")
	require.Error(t, err)
	assert.Empty(t, session.sends)
}

func TestScheduler_Send_Manual(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.contacts["c-1"] = &model.Contact{
		ID:         "c-1",
		BrandKey:   "brand x",
		Channel:    model.ChannelPhone,
		Normalized: "+6281111111111",
		Verdict:    model.VerdictValid,
	}
	st.brands["brand x"] = &model.Brand{Key: "brand x", DisplayName: "Brand X"}
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	rec, err := s.Send(context.Background(), "c-1", "collaboration")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSent, rec.Outcome)
	assert.Contains(t, rec.Body, "Halo Brand X!")
	require.Len(t, session.sends, 1)
}

func TestScheduler_Send_DuplicateRecordsSkip(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.contacts["c-1"] = &model.Contact{
		ID: "c-1", BrandKey: "brand x", Channel: model.ChannelPhone,
		Normalized: "+6281111111111", Verdict: model.VerdictValid,
	}
	st.sent["c-1"] = true
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	rec, err := s.Send(context.Background(), "c-1", "introduction")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSkippedDuplicate, rec.Outcome)
	assert.Empty(t, session.sends)
}

func TestScheduler_Send_Errors(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.contacts["invalid"] = &model.Contact{
		ID: "invalid", BrandKey: "brand x", Channel: model.ChannelPhone,
		Normalized: "+62812", Verdict: model.VerdictInvalid,
	}
	session := &fakeSession{ready: true}
	s := NewScheduler(st, session, DefaultCatalog(), testConfig())

	_, err := s.Send(context.Background(), "nonexistent", "introduction")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contact not found")

	_, err = s.Send(context.Background(), "invalid", "introduction")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid for dispatch")

	_, err = s.Send(context.Background(), "c-1", "nonexistent")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownTemplate))
}
