package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/time-capsule/internal/media"
	"github.com/iliyamo/time-capsule/internal/model"
)

// DefaultMessageMax is the default message limit in runes.
const DefaultMessageMax = 2000

const uploadConcurrency = 4

// Uploader persists one asset and returns its public address.
type Uploader interface {
	Store(ctx context.Context, data []byte, suggestedName, contentType string) (string, error)
}

// CapsuleStore is the write side of the capsule repository.
type CapsuleStore interface {
	Create(ctx context.Context, c *model.Capsule) error
}

// PhotoNormalizer re-encodes photos before upload.
type PhotoNormalizer interface {
	NormalizeAll(photos []media.Photo) ([]media.Photo, []int)
}

// CorrelationIssuer hands out server-side reclaim keys for drafts.
type CorrelationIssuer interface {
	Issue(ctx context.Context, capsuleID string) (string, error)
}

// Notifier is told about capsules that reached the finalized state.
type Notifier interface {
	CapsuleFinalized(ctx context.Context, c model.Capsule) error
}

// Config holds the fixed parameters of the capsule flow.
type Config struct {
	UnlockAt      time.Time
	MessageMax    int
	CheckoutURL   string
	PublicBaseURL string
}

// Deps groups the collaborators of Service.  Store and Uploader are
// required; the rest may be nil.
type Deps struct {
	Store        CapsuleStore
	Uploader     Uploader
	Normalizer   PhotoNormalizer
	Correlations CorrelationIssuer
	Notifier     Notifier
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service implements capsule submission.
type Service struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.MessageMax <= 0 {
		cfg.MessageMax = DefaultMessageMax
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{cfg: cfg, deps: deps, log: logger.With("component", "lifecycle"), now: now}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Submission is one capsule as assembled by the user.
type Submission struct {
	Message    string
	Photos     []media.Photo
	Audio      *media.Clip
	Privileged bool
	// Referral carries the inbound query parameters used for checkout attribution.
	Referral url.Values
}

// Result describes the created capsule and what the caller does next.
type Result struct {
	Capsule model.Capsule
	// ViewURL is set for finalized capsules.
	ViewURL string
	// PendingID is the correlation token the client keeps until reconciliation.
	PendingID string
	// ReclaimKey is the server-issued correlation key, when available.
	ReclaimKey string
	// CheckoutURL is the payment redirect for drafts.
	CheckoutURL string
	// SkippedAssets names assets whose upload failed.
	SkippedAssets []string
}

// Validate checks a submission before anything is uploaded.
func (s *Service) Validate(sub Submission) error {
	if len(sub.Photos) == 0 && (sub.Audio == nil || len(sub.Audio.Data) == 0) {
		return ErrNoContent
	}
	if len(sub.Photos) > model.MaxPhotos {
		return ErrCapacityExceeded
	}
	if utf8.RuneCountInString(sub.Message) > s.cfg.MessageMax {
		return fmt.Errorf("%w: %d characters allowed", ErrMessageTooLong, s.cfg.MessageMax)
	}
	return nil
}

// Submit uploads the assets of sub and records the capsule.  A privileged
// submission is finalized on creation; any other becomes a draft awaiting
// payment reconciliation.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	if err := s.Validate(sub); err != nil {
		return Result{}, err
	}

	photos := sub.Photos
	if s.deps.Normalizer != nil && len(photos) > 0 {
		var failed []int
		photos, failed = s.deps.Normalizer.NormalizeAll(photos)
		if len(failed) > 0 {
			s.log.Warn("some photos uploaded without normalization", "indexes", failed)
		}
	}

	up, err := s.upload(ctx, photos, sub.Audio)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	c := &model.Capsule{
		Message:   sub.Message,
		AudioURL:  up.audioURL,
		PhotoURLs: up.photoURLs,
		UnlockAt:  s.cfg.UnlockAt,
		CreatedAt: now,
	}
	if sub.Privileged {
		c.Source = model.SourceFree
		c.ProvisioningToken, err = NewToken(model.FreeTokenPrefix, now)
	} else {
		c.Source = model.SourcePending
		c.ProvisioningToken, err = NewToken(model.PendingTokenPrefix, now)
	}
	if err != nil {
		return Result{}, fmt.Errorf("mint token: %w", err)
	}

	if err := s.deps.Store.Create(ctx, c); err != nil {
		return Result{}, fmt.Errorf("%w: create capsule: %v", ErrStorage, err)
	}

	res := Result{Capsule: *c, SkippedAssets: up.skipped}
	if sub.Privileged {
		res.ViewURL = ViewURL(s.cfg.PublicBaseURL, c.ID)
		s.notify(ctx, *c)
		s.log.Info("capsule finalized", "capsule_id", c.ID, "source", c.Source)
		return res, nil
	}

	res.PendingID = c.ID
	res.CheckoutURL = CheckoutURL(s.cfg.CheckoutURL, sub.Referral)
	if s.deps.Correlations != nil {
		key, err := s.deps.Correlations.Issue(ctx, c.ID)
		if err != nil {
			s.log.Warn("reclaim key not issued", "capsule_id", c.ID, "error", err)
		} else {
			res.ReclaimKey = key
		}
	}
	s.log.Info("capsule draft created", "capsule_id", c.ID, "photos", len(c.PhotoURLs), "audio", c.AudioURL != nil)
	return res, nil
}

func (s *Service) notify(ctx context.Context, c model.Capsule) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.CapsuleFinalized(ctx, c); err != nil {
		s.log.Warn("finalization event not published", "capsule_id", c.ID, "error", err)
	}
}

type uploaded struct {
	audioURL  *string
	photoURLs []string
	skipped   []string
}

// upload stores every asset concurrently.  Photo URLs land in index slots so
// the stored order follows the selection order.
func (s *Service) upload(ctx context.Context, photos []media.Photo, audio *media.Clip) (uploaded, error) {
	photoURLs := make([]string, len(photos))
	photoErrs := make([]error, len(photos))
	var audioURL string
	var audioErr error

	var g errgroup.Group
	g.SetLimit(uploadConcurrency)

	hasAudio := audio != nil && len(audio.Data) > 0
	if hasAudio {
		g.Go(func() error {
			ct := audio.ContentType
			if ct == "" {
				ct = "audio/webm"
			}
			audioURL, audioErr = s.deps.Uploader.Store(ctx, audio.Data, "audio.webm", ct)
			return nil
		})
	}
	for i, p := range photos {
		g.Go(func() error {
			ct := p.ContentType
			if ct == "" {
				ct = "image/jpeg"
			}
			name := p.Name
			if name == "" {
				name = "photo.jpg"
			}
			photoURLs[i], photoErrs[i] = s.deps.Uploader.Store(ctx, p.Data, name, ct)
			return nil
		})
	}
	_ = g.Wait()

	var out uploaded
	total, failed := 0, 0
	if hasAudio {
		total++
		if audioErr != nil {
			failed++
			out.skipped = append(out.skipped, "audio")
			s.log.Warn("audio upload failed", "error", audioErr)
		} else {
			out.audioURL = &audioURL
		}
	}
	out.photoURLs = make([]string, 0, len(photos))
	for i := range photos {
		total++
		if photoErrs[i] != nil {
			failed++
			out.skipped = append(out.skipped, fmt.Sprintf("photo[%d]", i))
			s.log.Warn("photo upload failed", "index", i, "error", photoErrs[i])
			continue
		}
		out.photoURLs = append(out.photoURLs, photoURLs[i])
	}
	if total > 0 && failed == total {
		return uploaded{}, fmt.Errorf("%w: all %d uploads failed", ErrStorage, total)
	}
	return out, nil
}

// NewToken returns `<prefix><unixms>_<random>`.
func NewToken(prefix string, now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d_%s", prefix, now.UnixMilli(), hex.EncodeToString(b)), nil
}
