package outreach

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/resilience"
	"github.com/saribumi/brandreach/internal/store"
	"github.com/saribumi/brandreach/pkg/wagateway"
)

// Store is the subset of the persistence interface the scheduler needs.
type Store interface {
	PendingContacts(ctx context.Context, channel model.Channel, limit int, cooldown time.Duration) ([]store.PendingContact, error)
	SentWithin(ctx context.Context, contactID string, window time.Duration) (bool, error)
	AppendOutreach(ctx context.Context, rec model.OutreachRecord) (*model.OutreachRecord, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	GetBrand(ctx context.Context, key string) (*model.Brand, error)
}

// ErrSessionNotReady is returned when the gateway session is not
// authenticated. It is fatal for the current call: retrying cannot fix an
// unauthenticated session.
var ErrSessionNotReady = eris.New("messaging session not ready")

// Config holds the immutable scheduling parameters. It is passed in at
// construction, never read from ambient state.
type Config struct {
	// MinInterval is the global minimum delay between consecutive
	// dispatches on the shared session.
	MinInterval time.Duration

	// Cooldown is the window within which a contact may receive at most
	// one successful send.
	Cooldown time.Duration

	// MaxRetries bounds automatic retries of a failed contact before it
	// is considered exhausted. Manual sends ignore it.
	MaxRetries int

	// BatchSize caps how many eligible contacts one batch considers.
	BatchSize int

	// RetryBackoff is the base delay before a failed contact is retried;
	// it doubles with each consecutive failure.
	RetryBackoff time.Duration

	// SendTimeout bounds each individual gateway send.
	SendTimeout time.Duration
}

// Report summarizes one batch. Every considered contact lands in exactly
// one counter.
type Report struct {
	Eligible           int `json:"eligible"`
	Sent               int `json:"sent"`
	Failed             int `json:"failed"`
	SkippedRateLimited int `json:"skipped_rate_limited"`
	SkippedDuplicate   int `json:"skipped_duplicate"`
	Exhausted          int `json:"exhausted"`
	Deferred           int `json:"deferred"`
}

// Scheduler drives outreach dispatch against a single gateway session.
// The session is a single-writer resource: one scheduler owns it and the
// internal mutex serializes sends.
type Scheduler struct {
	store   Store
	session wagateway.Session
	catalog *Catalog
	cfg     Config

	limiter   *rate.Limiter
	sendRetry resilience.RetryConfig
	mu        sync.Mutex
	now       func() time.Time
}

// NewScheduler builds a scheduler over the given store and gateway session.
func NewScheduler(st Store, session wagateway.Session, catalog *Catalog, cfg Config) *Scheduler {
	var limiter *rate.Limiter
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return &Scheduler{
		store:   st,
		session: session,
		catalog: catalog,
		cfg:     cfg,
		limiter: limiter,
		sendRetry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.25,
			ShouldRetry:    sendRetryable,
			OnRetry:        resilience.RetryLogger("wagateway", "send"),
		},
		now: time.Now,
	}
}

// RunBatch dispatches one batch of pending contacts on the given channel.
// Configuration and session problems fail before any dispatch; per-contact
// problems are recorded in the audit log and the batch continues.
func (s *Scheduler) RunBatch(ctx context.Context, channel model.Channel, templateID string) (*Report, error) {
	if !s.catalog.Has(templateID) {
		return nil, eris.Wrapf(ErrUnknownTemplate, "%s", templateID)
	}
	if err := s.checkSession(ctx); err != nil {
		return nil, err
	}

	pending, err := s.store.PendingContacts(ctx, channel, s.cfg.BatchSize, s.cfg.Cooldown)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: load pending contacts")
	}

	report := &Report{Eligible: len(pending)}
	waited := false
	for _, p := range pending {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "outreach: batch cancelled")
		}

		if s.cfg.MaxRetries > 0 && p.FailuresSinceSent >= s.cfg.MaxRetries {
			report.Exhausted++
			zap.L().Debug("contact exhausted, excluded from automatic retry",
				zap.String("contact_id", p.ID),
				zap.Int("failures", p.FailuresSinceSent))
			continue
		}
		if s.backingOff(p) {
			report.Deferred++
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			// The batch waits out the remaining delay at most once;
			// further misses become skips.
			if waited {
				if err := s.record(ctx, p.ID, templateID, "", model.OutcomeSkippedRateLimited,
					"minimum inter-message delay not elapsed"); err != nil {
					return report, err
				}
				report.SkippedRateLimited++
				continue
			}
			waited = true
			if err := s.limiter.Wait(ctx); err != nil {
				return report, eris.Wrap(err, "outreach: rate limit wait")
			}
		}

		duplicate, err := s.store.SentWithin(ctx, p.ID, s.cfg.Cooldown)
		if err != nil {
			return report, eris.Wrap(err, "outreach: cool-down check")
		}
		if duplicate {
			if err := s.record(ctx, p.ID, templateID, "", model.OutcomeSkippedDuplicate,
				"already sent within cool-down window"); err != nil {
				return report, err
			}
			report.SkippedDuplicate++
			continue
		}

		body, err := s.renderFor(ctx, p.Contact, templateID)
		if err != nil {
			return report, err
		}

		outcome, detail := s.dispatch(ctx, p.Normalized, body)
		if err := s.record(ctx, p.ID, templateID, body, outcome, detail); err != nil {
			return report, err
		}
		if outcome == model.OutcomeSent {
			report.Sent++
		} else {
			report.Failed++
		}
	}

	zap.L().Info("outreach batch complete",
		zap.String("channel", string(channel)),
		zap.String("template", templateID),
		zap.Int("eligible", report.Eligible),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped_rate_limited", report.SkippedRateLimited),
		zap.Int("skipped_duplicate", report.SkippedDuplicate),
		zap.Int("exhausted", report.Exhausted))
	return report, nil
}

// Send dispatches a single contact by id. It is the manual re-trigger path:
// exhaustion does not apply, but the cool-down window still does.
func (s *Scheduler) Send(ctx context.Context, contactID, templateID string) (*model.OutreachRecord, error) {
	if !s.catalog.Has(templateID) {
		return nil, eris.Wrapf(ErrUnknownTemplate, "%s", templateID)
	}

	contact, err := s.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: load contact")
	}
	if contact == nil {
		return nil, eris.Errorf("outreach: contact not found: %s", contactID)
	}
	if contact.Verdict != model.VerdictValid {
		return nil, eris.Errorf("outreach: contact %s is not valid for dispatch", contactID)
	}

	if err := s.checkSession(ctx); err != nil {
		return nil, err
	}

	duplicate, err := s.store.SentWithin(ctx, contact.ID, s.cfg.Cooldown)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: cool-down check")
	}
	if duplicate {
		return s.store.AppendOutreach(ctx, model.OutreachRecord{
			ContactID:   contact.ID,
			TemplateID:  templateID,
			Outcome:     model.OutcomeSkippedDuplicate,
			ErrorDetail: "already sent within cool-down window",
		})
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "outreach: rate limit wait")
		}
	}

	body, err := s.renderFor(ctx, *contact, templateID)
	if err != nil {
		return nil, err
	}
	outcome, detail := s.dispatch(ctx, contact.Normalized, body)
	return s.store.AppendOutreach(ctx, model.OutreachRecord{
		ContactID:   contact.ID,
		TemplateID:  templateID,
		Body:        body,
		Outcome:     outcome,
		ErrorDetail: detail,
	})
}

func (s *Scheduler) checkSession(ctx context.Context) error {
	ready, err := s.session.Ready(ctx)
	if err != nil {
		return eris.Wrap(err, "outreach: session status")
	}
	if !ready {
		return ErrSessionNotReady
	}
	return nil
}

// backingOff reports whether a previously failed contact is still inside
// its exponential backoff delay.
func (s *Scheduler) backingOff(p store.PendingContact) bool {
	if p.FailuresSinceSent == 0 || p.LastFailedAt == nil || s.cfg.RetryBackoff <= 0 {
		return false
	}
	delay := s.cfg.RetryBackoff << (p.FailuresSinceSent - 1)
	return s.now().Before(p.LastFailedAt.Add(delay))
}

func (s *Scheduler) renderFor(ctx context.Context, c model.Contact, templateID string) (string, error) {
	brand, err := s.store.GetBrand(ctx, c.BrandKey)
	if err != nil {
		return "", eris.Wrap(err, "outreach: load brand")
	}
	if brand == nil {
		brand = &model.Brand{DisplayName: c.BrandKey}
	}
	return s.catalog.Render(templateID, *brand)
}

// dispatch performs one send on the shared session. The mutex enforces the
// single in-flight send rule, so in-call retries also run under it. Gateway
// rejections marked non-transient fail immediately; everything else gets one
// more attempt. SendTimeout bounds each attempt individually.
func (s *Scheduler) dispatch(ctx context.Context, dest, body string) (model.Outcome, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := resilience.DoVal(ctx, s.sendRetry, func(ctx context.Context) (*wagateway.SendResponse, error) {
		sendCtx := ctx
		if s.cfg.SendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
			defer cancel()
		}
		return s.session.Send(sendCtx, dest, body)
	})
	if err != nil {
		zap.L().Warn("send failed",
			zap.String("dest", dest),
			zap.Error(err))
		return model.OutcomeFailed, err.Error()
	}
	return model.OutcomeSent, ""
}

// sendRetryable defers to the gateway's own transience hint when the error
// carries one, falling back to the generic classifier otherwise.
func sendRetryable(err error) bool {
	var se *wagateway.SendError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return resilience.IsTransient(err)
}

func (s *Scheduler) record(ctx context.Context, contactID, templateID, body string, outcome model.Outcome, detail string) error {
	_, err := s.store.AppendOutreach(ctx, model.OutreachRecord{
		ContactID:   contactID,
		TemplateID:  templateID,
		Body:        body,
		Outcome:     outcome,
		ErrorDetail: detail,
	})
	return eris.Wrap(err, "outreach: append audit record")
}
