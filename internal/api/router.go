package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"mediaindex/internal/logger"
	"mediaindex/internal/metrics"
	"mediaindex/internal/models"
	"mediaindex/internal/session"
)

// API serves the playlists and segment lists of the configured channels.
type API struct {
	sessionMgr *session.SessionManager
	logger     logger.Logger
}

// New returns the HTTP handler of the service. Metrics are served on
// /metrics when m is not nil.
func New(sessionMgr *session.SessionManager, log logger.Logger, m *metrics.Metrics) http.Handler {
	api := &API{
		sessionMgr: sessionMgr,
		logger:     log,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(RequestID)
	r.Use(Logging(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", api.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Route("/live", func(r chi.Router) {
		r.Get("/{channelID}.m3u8", api.handleMasterPlaylist)
		r.Route("/{channelID}/{representationID}", func(r chi.Router) {
			r.Get("/playlist.m3u8", api.handleMediaPlaylist)
			r.Get("/segments", api.handleSegments)
		})
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*session.StreamSession, bool) {
	sess, err := a.sessionMgr.GetOrCreateSession(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (a *API) handleMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	playlist, err := sess.GetMasterPlaylist()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writePlaylist(w, playlist)
}

func (a *API) handleMediaPlaylist(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	playlist, err := sess.GetMediaPlaylist(chi.URLParam(r, "representationID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writePlaylist(w, playlist)
}

// SegmentResponse is one entry of the segments listing.
type SegmentResponse struct {
	Time     float64 `json:"time"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
	Range    string  `json:"range,omitempty"`
	Number   *uint64 `json:"number,omitempty"`
}

func (a *API) handleSegments(w http.ResponseWriter, r *http.Request) {
	from, err := floatParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	duration, err := floatParam(r, "duration")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	segs, err := sess.GetSegments(chi.URLParam(r, "representationID"), from, duration)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]SegmentResponse, 0, len(segs))
	for _, seg := range segs {
		out = append(out, toResponse(seg))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		a.logger.Warnf("Failed to write segments response: %v", err)
	}
}

func toResponse(seg models.Segment) SegmentResponse {
	resp := SegmentResponse{
		Time:     seg.Time,
		End:      seg.End,
		Duration: seg.Duration,
		URL:      seg.URL,
		Number:   seg.Number,
	}
	if seg.Range != nil {
		resp.Range = seg.Range.Header()
	}
	return resp
}

func floatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.New("invalid " + name + " parameter")
	}
	return &v, nil
}

func writePlaylist(w http.ResponseWriter, playlist string) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(playlist))
}

// writeError maps session errors to HTTP statuses. Anything unexpected is
// an origin failure.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrUnknownChannel), errors.Is(err, session.ErrUnknownRepresentation):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNotReady):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusBadGateway {
		a.logger.Warnf("Request %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), status)
}
