// Package api exposes browse sessions over HTTP, a websocket event stream
// and MCP tools. Both transports share the same kit endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/kit"
	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/session"
	"github.com/hazyhaar/seqbrowse/store"
)

// ErrBadRequest marks malformed input.
var ErrBadRequest = errors.New("api: bad request")

const maxBodyBytes = 8 << 20

// JournalReader lists recorded sync passes.
type JournalReader interface {
	Entries(ctx context.Context, sessionID string, limit int) ([]*store.JournalEntry, error)
}

// Options configures an API.
type Options struct {
	Logger *slog.Logger
	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string
	Journal   JournalReader
	// EventBuffer bounds the per-connection websocket queue.
	EventBuffer int
	// RateLimit caps requests per client IP and RateWindow. Zero disables.
	RateLimit  int
	RateWindow time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	// Enable it only behind a reverse proxy that sets those headers.
	TrustProxy bool
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Minute
	}
}

// API serves a session manager.
type API struct {
	mgr      *session.Manager
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	state    kit.Endpoint
	sel      kit.Endpoint
	playback kit.Endpoint
	tick     kit.Endpoint
	mirror   kit.Endpoint
}

// New builds an API over mgr.
func New(mgr *session.Manager, opts Options) *API {
	opts.defaults()
	a := &API{
		mgr:    mgr,
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Recover(), kit.Logging(a.logger, op))(ep)
	}
	a.state = wrap("state", a.stateEndpoint)
	a.sel = wrap("select", a.selectEndpoint)
	a.playback = wrap("playback", a.playbackEndpoint)
	a.tick = wrap("tick", a.tickEndpoint)
	a.mirror = wrap("mirror", a.mirrorEndpoint)
	return a
}

// Handler returns the full router: shared middleware, a health probe and
// the authenticated session routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if a.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(MaxBody(maxBodyBytes))
	if a.opts.RateLimit > 0 {
		r.Use(NewRateLimiter(a.opts.RateLimit, a.opts.RateWindow, a.logger).Middleware)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(a.opts.TokenHash))
		a.RegisterHTTP(r)
	})
	return r
}

// RegisterHTTP mounts the session routes on r.
func (a *API) RegisterHTTP(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.handleCreate)
		r.Get("/", a.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.serve(a.state, decodeNone, http.StatusOK))
			r.Delete("/", a.handleDelete)
			r.Post("/branches", a.handleAddBranch)
			r.Post("/select", a.serve(a.sel, decodeJSON[selectRequest], http.StatusOK))
			r.Post("/playback", a.serve(a.playback, decodeJSON[playbackRequest], http.StatusOK))
			r.Post("/tick", a.serve(a.tick, decodeNone, http.StatusOK))
			r.Get("/mirror", a.serve(a.mirror, decodeNone, http.StatusOK))
			r.Get("/mirror/{key}", a.handleMirrorItem)
			r.Get("/journal", a.handleJournal)
			r.Get("/events", a.handleEvents)
		})
	})
}

// serve adapts an endpoint to HTTP. The {id} URL parameter becomes the
// session id of the call.
func (a *API) serve(ep kit.Endpoint, decode func(*http.Request) (any, error), code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := ep(requestContext(r), req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, code, resp)
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := kit.WithTransport(r.Context(), "http")
	if id := chi.URLParam(r, "id"); id != "" {
		ctx = kit.WithSessionID(ctx, id)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ctx = kit.WithRequestID(ctx, rid)
	}
	return ctx
}

func decodeNone(*http.Request) (any, error) { return nil, nil }

// decodeJSON reads a T from the body. An empty body yields the zero T.
func decodeJSON[T any](r *http.Request) (any, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrBadRequest, err)
	}
	return v, nil
}

// --- sessions ---

type createRequest struct {
	Name         string  `json:"name"`
	RateFPS      float64 `json:"rate_fps,omitempty"`
	Looped       *bool   `json:"looped,omitempty"`
	ItemSkipping *bool   `json:"item_skipping,omitempty"`
	IndexName    string  `json:"index_name,omitempty"`
	IndexUnit    string  `json:"index_unit,omitempty"`
	IndexType    string  `json:"index_type,omitempty"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	v, err := decodeJSON[createRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := v.(createRequest)
	if req.RateFPS < 0 {
		writeError(w, http.StatusBadRequest, errors.New("rate_fps must be positive"))
		return
	}
	s, err := a.mgr.Create(r.Context(), session.CreateOptions{
		Name:         req.Name,
		RateFPS:      req.RateFPS,
		Looped:       req.Looped,
		ItemSkipping: req.ItemSkipping,
		IndexName:    req.IndexName,
		IndexUnit:    req.IndexUnit,
		IndexType:    req.IndexType,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view, err := s.View()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := a.mgr.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.mgr.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type branchChild struct {
	Key  string      `json:"key"`
	Item *scene.Blob `json:"item"`
}

type branchRequest struct {
	IndexValue string        `json:"index_value"`
	Children   []branchChild `json:"children"`
}

type branchResponse struct {
	Branch scene.NodeID `json:"branch"`
	View   session.View `json:"view"`
}

func (a *API) handleAddBranch(w http.ResponseWriter, r *http.Request) {
	v, err := decodeJSON[branchRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := v.(branchRequest)
	children := make([]session.ChildSpec, 0, len(req.Children))
	for _, c := range req.Children {
		if c.Item == nil {
			writeError(w, http.StatusBadRequest, errors.New("child "+strconv.Quote(c.Key)+" has no item"))
			return
		}
		children = append(children, session.ChildSpec{Key: c.Key, Item: c.Item})
	}
	s, err := a.mgr.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	branch, err := s.AddBranch(req.IndexValue, children)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view, err := s.View()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, branchResponse{Branch: branch, View: view})
}

func (a *API) handleMirrorItem(w http.ResponseWriter, r *http.Request) {
	s, err := a.mgr.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	item, err := s.MirrorItem(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": item.Kind(), "item": item})
}

func (a *API) handleJournal(w http.ResponseWriter, r *http.Request) {
	if a.opts.Journal == nil {
		writeError(w, http.StatusNotFound, errors.New("journal disabled"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := a.opts.Journal.Entries(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- errors ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, scene.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, browser.ErrInvalidOperation),
		errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, mirror.ErrPrecondition):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrInvalidIndex),
		errors.Is(err, scene.ErrUnknownKind):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
