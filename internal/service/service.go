package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"posledger/internal/cache"
	"posledger/internal/composer"
	"posledger/internal/domain"
	"posledger/internal/feed"
	"posledger/internal/metrics"
	"posledger/internal/store"
	"posledger/internal/xid"
)

var ErrForbidden = errors.New("forbidden role")

var (
	orderEntryRoles = []string{domain.RoleMaster, domain.RoleCasher}
	backOfficeRoles = []string{domain.RoleMaster, domain.RoleManager}
	anyRole         = []string{domain.RoleMaster, domain.RoleManager, domain.RoleCasher}
)

type Options struct {
	Cache    cache.SalesCache
	Feed     feed.Publisher
	Metrics  *metrics.Metrics
	Location *time.Location
	CacheTTL time.Duration
	Logger   *zerolog.Logger
}

type Service struct {
	repo     store.Repository
	cache    cache.SalesCache
	feed     feed.Publisher
	metrics  *metrics.Metrics
	loc      *time.Location
	cacheTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	newID    func(prefix string) string

	mu     sync.Mutex
	drafts map[string]*terminalDraft
}

// terminalDraft serializes work on one terminal's draft, including the
// store round trip on submit.
type terminalDraft struct {
	mu    sync.Mutex
	draft *composer.Draft
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopSalesCache{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Service{
		repo:     repo,
		cache:    opts.Cache,
		feed:     opts.Feed,
		metrics:  opts.Metrics,
		loc:      opts.Location,
		cacheTTL: opts.CacheTTL,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
		newID:    xid.New,
		drafts:   make(map[string]*terminalDraft),
	}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func requireRole(actor domain.Actor, roles []string) error {
	if actor.Email == "" || !slices.Contains(roles, actor.Role) {
		return ErrForbidden
	}
	return nil
}

// draftFor returns the draft bound to the actor's session, creating it on
// first use. Sessions without an id fall back to the account email.
func (s *Service) draftFor(actor domain.Actor) *terminalDraft {
	key := actor.SessionID
	if key == "" {
		key = actor.Email
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.drafts[key]
	if !ok {
		td = &terminalDraft{draft: composer.New()}
		s.drafts[key] = td
	}
	return td
}

// DropDraft forgets a session's draft, e.g. on sign-out.
func (s *Service) DropDraft(actor domain.Actor) {
	key := actor.SessionID
	if key == "" {
		key = actor.Email
	}
	s.mu.Lock()
	delete(s.drafts, key)
	s.mu.Unlock()
}

// changed runs after every successful mutation. Failures here never undo the
// write; they are logged and the next mutation tries again.
func (s *Service) changed(ctx context.Context, collections ...string) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("sales cache invalidation failed")
	}
	if s.feed == nil {
		return
	}
	at := s.now().UTC()
	for _, c := range collections {
		s.feed.Publish(ctx, feed.Event{Collection: c, At: at})
	}
}

func (s *Service) countRecords(records []domain.InventoryRecord) {
	if s.metrics == nil {
		return
	}
	for _, rec := range records {
		s.metrics.InventoryRecords.WithLabelValues(rec.Type).Inc()
	}
}
