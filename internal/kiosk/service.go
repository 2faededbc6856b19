// Package kiosk drives a visitor through the totem flow: team and idol
// selection, selfie capture, photo generation and the WhatsApp share.
//
// Record store, storage and webhook failures never block the visitor. They
// are logged and counted, and the flow continues with what it has locally.
package kiosk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supercopa/totem/internal/catalog"
	svcerrors "github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/flow"
	"github.com/supercopa/totem/internal/generation"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/internal/metrics"
	"github.com/supercopa/totem/internal/records"
	"github.com/supercopa/totem/internal/webhook"
)

// LocalSessionPrefix marks session ids that exist only in the flow store.
const LocalSessionPrefix = "local-"

// Generator is satisfied by *generation.Service.
type Generator interface {
	Configured() bool
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// Notifier is satisfied by *webhook.Client.
type Notifier interface {
	Configured() bool
	Trigger(ctx context.Context, p webhook.Payload) webhook.Response
}

// Options tune the service.
type Options struct {
	DefaultImageSize catalog.ImageSize
	// StateTTL is how long an untouched flow state survives.
	StateTTL time.Duration
	// GenerationTimeout bounds one Generate call including retries. A
	// generation flagged as running for longer is considered abandoned.
	GenerationTimeout time.Duration
}

// Service is safe for concurrent use. Operations on one session are
// serialised; different sessions proceed in parallel.
type Service struct {
	states    flow.Store
	records   records.Store
	generator Generator
	notifier  Notifier
	catalog   *catalog.Catalog
	camera    *flow.CameraLease
	metrics   *metrics.Metrics
	logger    *logging.Logger
	opts      Options

	locks *sessionLocks
	now   func() time.Time
}

// Deps are the collaborators of the service.
type Deps struct {
	States    flow.Store
	Records   records.Store
	Generator Generator
	Notifier  Notifier
	Catalog   *catalog.Catalog
	Camera    *flow.CameraLease
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

func NewService(deps Deps, opts Options) *Service {
	if opts.DefaultImageSize == "" {
		opts.DefaultImageSize = catalog.DefaultImageSize
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 30 * time.Minute
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 3 * time.Minute
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Camera == nil {
		deps.Camera = flow.NewCameraLease()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Service{
		states:    deps.States,
		records:   deps.Records,
		generator: deps.Generator,
		notifier:  deps.Notifier,
		catalog:   deps.Catalog,
		camera:    deps.Camera,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
		locks:     newSessionLocks(),
		now:       time.Now,
	}
}

// Catalog returns the team and idol catalog in use.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Camera returns the camera lease.
func (s *Service) Camera() *flow.CameraLease { return s.camera }

// Start opens a new visitor session on TEAM_SELECTION. When the record store
// is unavailable a local id is used and the flow goes on without records.
func (s *Service) Start(ctx context.Context) (*flow.State, error) {
	persisted := true
	id, err := s.records.CreateSession(ctx)
	if err != nil {
		s.storeFailed(ctx, "create_session", err)
		id = LocalSessionPrefix + uuid.NewString()
		persisted = false
	}

	st := flow.NewState(id, persisted, s.opts.DefaultImageSize, s.now())
	if err := s.states.Put(ctx, st); err != nil {
		return nil, svcerrors.Unavailable("Session state unavailable", err)
	}

	s.metrics.RecordSessionStarted(persisted)
	s.metrics.RecordTransition(string(flow.Welcome), string(flow.TeamSelection))
	s.patchRecord(logging.WithSessionID(ctx, id), st, records.SessionPatch{CurrentScreen: screenPtr(flow.TeamSelection)})

	s.logger.WithContext(ctx).WithField("session_id", id).WithField("persisted", persisted).Info("Session started")
	return st, nil
}

// Get returns the current state of a session.
func (s *Service) Get(ctx context.Context, id string) (*flow.State, error) {
	return s.load(ctx, id)
}

// Back performs the single-step cancel of the current screen. Going back
// from TEAM_SELECTION abandons the session.
func (s *Service) Back(ctx context.Context, id string) (*flow.State, error) {
	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Generating && !s.generationAbandoned(st) {
			return svcerrors.Conflict("Generation in progress")
		}
		prev, ok := flow.Back(st.Screen)
		if !ok {
			return svcerrors.InvalidTransition(string(st.Screen), "back", flow.ErrInvalidTransition)
		}
		if err := s.transition(ctx, st, prev); err != nil {
			return err
		}
		if prev == flow.Welcome {
			out = st
			return s.discard(ctx, st)
		}
		out = st
		return s.save(ctx, st)
	})
	return out, err
}

// SetImageSize changes the requested output resolution.
func (s *Service) SetImageSize(ctx context.Context, id, size string) (*flow.State, error) {
	parsed, err := catalog.ParseImageSize(size)
	if err != nil {
		return nil, svcerrors.BadRequest(err.Error())
	}

	var out *flow.State
	err = s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Generating && !s.generationAbandoned(st) {
			return svcerrors.Conflict("Generation in progress")
		}
		st.ImageSize = parsed
		st.UpdatedAt = s.now()
		if err := s.save(ctx, st); err != nil {
			return err
		}
		sz := string(parsed)
		s.patchRecord(ctx, st, records.SessionPatch{ImageSize: &sz})
		out = st
		return nil
	})
	return out, err
}

// Evict drops states idle for longer than the TTL, releases camera leases
// they hold and frees a lease whose holder no longer exists.
func (s *Service) Evict(ctx context.Context) (int, error) {
	states, err := s.states.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	evicted := 0
	live := make(map[string]bool, len(states))
	for _, st := range states {
		if !st.Idle(now, s.opts.StateTTL) {
			live[st.SessionID] = true
			continue
		}
		if err := s.states.Delete(ctx, st.SessionID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("session_id", st.SessionID).Warn("Failed to evict session")
			live[st.SessionID] = true
			continue
		}
		s.camera.Release(st.SessionID)
		evicted++
	}

	if holder, _ := s.camera.Holder(); holder != "" && !live[holder] {
		s.camera.Release(holder)
	}

	s.metrics.RecordEvictions(evicted)
	s.metrics.SetActiveSessions(len(live))
	return evicted, nil
}

func (s *Service) load(ctx context.Context, id string) (*flow.State, error) {
	if id == "" {
		return nil, svcerrors.BadRequest("session id is required")
	}
	st, err := s.states.Get(ctx, id)
	if err != nil {
		if errors.Is(err, flow.ErrNotFound) {
			return nil, svcerrors.NotFound("session", id)
		}
		return nil, svcerrors.Unavailable("Session state unavailable", err)
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, st *flow.State) error {
	if err := s.states.Put(ctx, st); err != nil {
		return svcerrors.Unavailable("Session state unavailable", err)
	}
	return nil
}

// discard removes the state once the visitor left the flow.
func (s *Service) discard(ctx context.Context, st *flow.State) error {
	s.camera.Release(st.SessionID)
	if err := s.states.Delete(ctx, st.SessionID); err != nil {
		return svcerrors.Unavailable("Session state unavailable", err)
	}
	return nil
}

// withSession loads the state and runs fn under the session lock.
func (s *Service) withSession(ctx context.Context, id string, fn func(ctx context.Context, st *flow.State) error) error {
	unlock := s.locks.lock(id)
	defer unlock()

	st, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return fn(logging.WithSessionID(ctx, id), st)
}

// transition moves st to the target screen and keeps the camera lease and
// the session record in step.
func (s *Service) transition(ctx context.Context, st *flow.State, to flow.Screen) error {
	from := st.Screen
	if err := flow.Transition(from, to); err != nil {
		return svcerrors.InvalidTransition(string(from), string(to), err)
	}

	if to == flow.Camera {
		if err := s.camera.Acquire(st.SessionID, s.now()); err != nil {
			return svcerrors.Conflict("Camera is in use by another session")
		}
	}
	if from == flow.Camera && to != flow.Camera {
		s.camera.Release(st.SessionID)
	}

	if err := st.MoveTo(to, s.now()); err != nil {
		return svcerrors.InvalidTransition(string(from), string(to), err)
	}
	s.metrics.RecordTransition(string(from), string(to))
	if to != flow.Welcome {
		s.patchRecord(ctx, st, records.SessionPatch{CurrentScreen: screenPtr(to)})
	}
	return nil
}

func (s *Service) patchRecord(ctx context.Context, st *flow.State, patch records.SessionPatch) {
	if !st.Persisted {
		return
	}
	if err := s.records.UpdateSession(ctx, st.SessionID, patch); err != nil {
		s.storeFailed(ctx, "update_session", err)
	}
}

func (s *Service) storeFailed(ctx context.Context, op string, err error) {
	if errors.Is(err, records.ErrNoStorage) {
		s.logger.WithContext(ctx).WithField("op", op).Debug("No image storage configured")
		return
	}
	s.metrics.RecordStoreError(op)
	s.logger.WithContext(ctx).WithError(err).WithField("op", op).Warn("Record store call failed, continuing")
}

func (s *Service) generationAbandoned(st *flow.State) bool {
	return st.Generating && s.now().Sub(st.GenerationStartedAt) > s.opts.GenerationTimeout
}

func screenPtr(s flow.Screen) *string {
	v := string(s)
	return &v
}

// sessionLocks hands out one mutex per session id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
