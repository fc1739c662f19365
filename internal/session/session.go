package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediaindex/internal/cache"
	"mediaindex/internal/config"
	"mediaindex/internal/dash"
	"mediaindex/internal/hls"
	"mediaindex/internal/index"
	"mediaindex/internal/logger"
	"mediaindex/internal/metrics"
	"mediaindex/internal/models"
)

// maxConcurrentIndexLoads bounds the index segments fetched at once by a
// refresh.
const maxConcurrentIndexLoads = 4

var (
	// ErrUnknownChannel is returned for a channel missing from the configuration.
	ErrUnknownChannel = errors.New("session: unknown channel")
	// ErrUnknownRepresentation is returned for a representation the
	// manifest does not announce.
	ErrUnknownRepresentation = errors.New("session: unknown representation")
	// ErrNotReady is returned while a representation has no segment yet.
	ErrNotReady = errors.New("session: no segment available yet")
)

// StreamSession follows the manifest of one channel.
type StreamSession struct {
	ChannelID   string
	ManifestURL string

	mgr    *SessionManager
	logger logger.Logger

	mutex    sync.RWMutex
	manifest *dash.Manifest

	// refreshMutex serializes writers of the indexes.
	refreshMutex sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// SessionManager manages all active stream sessions.
type SessionManager struct {
	mutex    sync.RWMutex
	sessions map[string]*StreamSession

	logger     logger.Logger
	cfg        *config.Config
	dashClient *dash.Client
	loader     *dash.Loader
	segCache   *cache.ResourceCache
	metrics    *metrics.Metrics
	clock      func() time.Time
}

// Option customizes a SessionManager.
type Option func(*SessionManager)

// WithClock sets the clock used to date manifests.
func WithClock(clock func() time.Time) Option {
	return func(sm *SessionManager) { sm.clock = clock }
}

// NewManager creates a new session manager. Index segments loaded for
// SegmentBase representations are kept in a cache evicted against the
// representations still announced.
func NewManager(log logger.Logger, cfg *config.Config, dashClient *dash.Client, m *metrics.Metrics, opts ...Option) *SessionManager {
	sm := &SessionManager{
		sessions:   make(map[string]*StreamSession),
		logger:     log,
		cfg:        cfg,
		dashClient: dashClient,
		metrics:    m,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.segCache = cache.New(log, sm.GetAllActiveSegmentKeys, cfg.Cache.EvictionInterval)
	sm.loader = dash.NewLoader(dashClient.HTTPClient(), log, dash.LoaderConfig{
		UserAgent:  cfg.Fetch.UserAgent,
		MaxRetries: cfg.Fetch.RetryAttempts,
		RetryDelay: cfg.Fetch.RetryDelay,
		Timeout:    cfg.Fetch.Timeout,
		Cache:      sm.segCache,
	})
	return sm
}

// Start begins the background workers for the manager's components.
func (sm *SessionManager) Start() {
	sm.segCache.Start()
}

// Stop gracefully shuts down all sessions and background workers.
func (sm *SessionManager) Stop() {
	sm.logger.Infof("Stopping session manager and all active sessions...")
	sm.mutex.Lock()
	for _, session := range sm.sessions {
		session.Stop()
	}
	sm.sessions = make(map[string]*StreamSession)
	sm.mutex.Unlock()
	sm.segCache.Stop()
	sm.logger.Infof("Session manager stopped.")
}

// GetOrCreateSession retrieves an existing session or creates a new one.
// A new session fetches its manifest before being returned.
func (sm *SessionManager) GetOrCreateSession(ctx context.Context, channelID string) (*StreamSession, error) {
	sm.mutex.RLock()
	session, found := sm.sessions[channelID]
	sm.mutex.RUnlock()
	if found {
		return session, nil
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	if session, found = sm.sessions[channelID]; found {
		return session, nil
	}

	channel, ok := sm.cfg.Channel(channelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	sm.logger.Infof("No session found for channel ID: %s. Creating a new one.", channelID)

	sessCtx, cancel := context.WithCancel(context.Background())
	session = &StreamSession{
		ChannelID:   channelID,
		ManifestURL: channel.ManifestURL,
		mgr:         sm,
		logger:      logger.With(sm.logger, "session"),
		ctx:         sessCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	if err := session.refreshMPD(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("initial MPD fetch for channel '%s': %w", channelID, err)
	}

	sm.sessions[channelID] = session
	session.Start()
	sm.logger.Infof("Successfully created and started new session for channel: %s (%s)", channel.Name, channelID)
	return session, nil
}

// GetAllActiveSegmentKeys collects the cache keys of the index segments of
// every representation still announced, so that they are not evicted.
func (sm *SessionManager) GetAllActiveSegmentKeys() map[string]struct{} {
	activeKeys := make(map[string]struct{})
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for _, session := range sm.sessions {
		man := session.Manifest()
		if man == nil {
			continue
		}
		forEachRepresentation(man, func(_ *dash.AdaptationSet, rep *dash.Representation) {
			base, ok := rep.Index.(*index.BaseIndex)
			if !ok {
				return
			}
			if rng, ok := base.IndexRange(); ok {
				activeKeys[cache.Key(base.MediaURL(), &rng)] = struct{}{}
			}
		})
	}
	return activeKeys
}

// Start kicks off the background refresh of the session. Static manifests
// are never refreshed.
func (s *StreamSession) Start() {
	man := s.Manifest()
	if man == nil || !man.Dynamic {
		close(s.done)
		return
	}
	s.logger.Infof("Starting MPD refresh loop for session %s", s.ChannelID)
	go s.mpdRefreshLoop()
}

// Stop terminates the background goroutines of the session.
func (s *StreamSession) Stop() {
	s.logger.Infof("Stopping background loops for session %s", s.ChannelID)
	s.cancel()
	<-s.done
}

// Manifest returns the current manifest.
func (s *StreamSession) Manifest() *dash.Manifest {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.manifest
}

// refreshInterval is minimumUpdatePeriod, bounded below by the configured
// minimum, or the configured default when the MPD has none.
func (s *StreamSession) refreshInterval() time.Duration {
	refresh := s.mgr.cfg.Refresh
	man := s.Manifest()
	if man == nil || man.MinimumUpdatePeriod <= 0 {
		return refresh.DefaultInterval
	}
	if man.MinimumUpdatePeriod < refresh.MinInterval {
		return refresh.MinInterval
	}
	return man.MinimumUpdatePeriod
}

// mpdRefreshLoop periodically fetches a new MPD.
func (s *StreamSession) mpdRefreshLoop() {
	defer close(s.done)
	timer := time.NewTimer(s.refreshInterval())
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("MPD refresh loop for %s stopped.", s.ChannelID)
			return
		case <-timer.C:
			if err := s.refreshMPD(s.ctx); err != nil {
				s.logger.Warnf("Failed to refresh MPD for session %s: %v", s.ChannelID, err)
			}
			timer.Reset(s.refreshInterval())
		}
	}
}

// refreshMPD fetches the MPD, builds its indexes from the current ones and
// merges them into the current manifest.
func (s *StreamSession) refreshMPD(ctx context.Context) error {
	s.refreshMutex.Lock()
	defer s.refreshMutex.Unlock()

	sm := s.mgr
	fetched, err := sm.dashClient.FetchManifest(ctx, s.ManifestURL)
	if err != nil {
		sm.metrics.ObserveRefresh(false)
		return err
	}

	current := s.Manifest()
	opts := dash.BuildOptions{
		ManifestURL:          fetched.URL,
		ReceivedAt:           sm.clock(),
		Clock:                sm.clock,
		RoundingError:        sm.cfg.Timeline.RoundingError,
		IncrementalThreshold: sm.cfg.Timeline.IncrementalThreshold,
		Previous:             current,
		Logger:               s.logger,
		Metrics:              sm.metrics,
	}
	if fetched.ServerDate != nil {
		offset := fetched.ServerDate.Sub(fetched.ReceivedAt)
		opts.ServerTimeOffset = &offset
	}
	newer, err := dash.Build(fetched.MPD, opts)
	if err != nil {
		sm.metrics.ObserveRefresh(false)
		return fmt.Errorf("building manifest: %w", err)
	}

	merged, stats := dash.Merge(current, newer, s.logger)
	s.initializeBaseIndexes(ctx, merged)

	s.mutex.Lock()
	s.manifest = merged
	s.mutex.Unlock()
	sm.metrics.ObserveRefresh(true)

	if current != nil {
		s.logger.Debugf("Refreshed MPD for session %s: %d updated, %d replaced, %d kept, %d added",
			s.ChannelID, stats.Updated, stats.Replaced, stats.Kept, stats.Added)
	}
	return nil
}

// initializeBaseIndexes loads the index segment of the SegmentBase
// representations not initialized yet. Failures leave the index empty
// until the next refresh.
func (s *StreamSession) initializeBaseIndexes(ctx context.Context, man *dash.Manifest) {
	sem := semaphore.NewWeighted(maxConcurrentIndexLoads)
	var wg sync.WaitGroup
	forEachRepresentation(man, func(_ *dash.AdaptationSet, rep *dash.Representation) {
		base, ok := rep.Index.(*index.BaseIndex)
		if !ok || base.IsInitialized() {
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(repID string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := s.mgr.loader.InitializeBase(ctx, base); err != nil {
				s.logger.Warnf("Failed to load index segment of rep %s: %v", repID, err)
			}
		}(rep.ID)
	})
	wg.Wait()
}

// GetMasterPlaylist returns the master playlist of the session.
func (s *StreamSession) GetMasterPlaylist() (string, error) {
	man := s.Manifest()
	if man == nil {
		return "", ErrNotReady
	}
	return hls.GenerateMasterPlaylist(man, s.ChannelID)
}

// GetMediaPlaylist returns the media playlist of a representation: the
// last segments before the live edge when live, every segment otherwise.
func (s *StreamSession) GetMediaPlaylist(repID string) (string, error) {
	rep, err := s.representation(repID)
	if err != nil {
		return "", err
	}
	segs, err := s.availableSegments(rep)
	if err != nil {
		return "", err
	}
	ended := !rep.Index.IsStillAwaitingFutureSegments()
	if n := s.mgr.cfg.Refresh.PlaylistSegments; !ended && len(segs) > n {
		segs = segs[len(segs)-n:]
	}

	pl := hls.MediaPlaylist{Segments: segs, Ended: ended}
	if init, ok := rep.Index.InitSegment(); ok {
		withURL(&init, rep)
		pl.Init = &init
	}
	return hls.GenerateMediaPlaylist(pl), nil
}

// GetSegments returns the segments of a representation overlapping
// [from, from+duration). A nil bound defaults to the available range.
func (s *StreamSession) GetSegments(repID string, from, duration *float64) ([]models.Segment, error) {
	rep, err := s.representation(repID)
	if err != nil {
		return nil, err
	}
	if from == nil && duration == nil {
		return s.availableSegments(rep)
	}
	start, end, err := availableRange(rep.Index)
	if err != nil {
		return nil, err
	}
	if from != nil {
		start = *from
	}
	length := end - start
	if duration != nil {
		length = *duration
	}
	segs, err := rep.Index.Segments(start, length)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		withURL(&segs[i], rep)
	}
	return segs, nil
}

func (s *StreamSession) representation(repID string) (*dash.Representation, error) {
	man := s.Manifest()
	if man == nil {
		return nil, ErrNotReady
	}
	_, rep, ok := man.Latest(repID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepresentation, repID)
	}
	return rep, nil
}

func (s *StreamSession) availableSegments(rep *dash.Representation) ([]models.Segment, error) {
	start, end, err := availableRange(rep.Index)
	if err != nil {
		return nil, err
	}
	segs, err := rep.Index.Segments(start, end-start)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		withURL(&segs[i], rep)
	}
	return segs, nil
}

func availableRange(x index.RepresentationIndex) (float64, float64, error) {
	first, ok := x.FirstAvailablePosition()
	if !ok {
		return 0, 0, ErrNotReady
	}
	last, ok := x.LastAvailablePosition()
	if !ok || last <= first {
		return 0, 0, ErrNotReady
	}
	return first, last, nil
}

// withURL falls back to the representation URL for segments whose format
// carries none.
func withURL(seg *models.Segment, rep *dash.Representation) {
	if seg.URL == "" {
		seg.URL = rep.BaseURL
	}
}

func forEachRepresentation(man *dash.Manifest, fn func(*dash.AdaptationSet, *dash.Representation)) {
	for _, p := range man.Periods {
		for _, as := range p.AdaptationSets {
			for _, rep := range as.Representations {
				fn(as, rep)
			}
		}
	}
}
