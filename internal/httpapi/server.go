// Package httpapi serves the controller list, its editing operations and a
// websocket feed of ping changes over HTTP.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/network"
	"github.com/bbernstein/lacylights-outputs/internal/services/pubsub"
	"github.com/bbernstein/lacylights-outputs/internal/services/show"
)

// ChannelStore holds absolute channel values.
type ChannelStore interface {
	Channel(absoluteChannel int32) (byte, error)
	SetChannel(absoluteChannel int32, value byte) error
	Blackout()
	IsHighRate() bool
}

// Options configures a Server. Channels, PubSub, Snapshots and Settings are
// optional.
type Options struct {
	Show             *show.Show
	Channels         ChannelStore
	PubSub           *pubsub.PubSub
	Snapshots        SnapshotReader
	Settings         SettingLister
	Interfaces       func() ([]network.InterfaceOption, error)
	DiscoveryTimeout time.Duration
	Version          string
	Log              *logger.Log
}

// Server holds the handler dependencies.
type Server struct {
	show             *show.Show
	channels         ChannelStore
	ps               *pubsub.PubSub
	snapshots        SnapshotReader
	settings         SettingLister
	interfaces       func() ([]network.InterfaceOption, error)
	discoveryTimeout time.Duration
	version          string
	started          time.Time
	log              *logger.Log
}

// New creates a Server.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	timeout := opts.DiscoveryTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	interfaces := opts.Interfaces
	if interfaces == nil {
		interfaces = network.GetNetworkInterfaces
	}
	return &Server{
		show:             opts.Show,
		channels:         opts.Channels,
		ps:               opts.PubSub,
		snapshots:        opts.Snapshots,
		settings:         opts.Settings,
		interfaces:       interfaces,
		discoveryTimeout: timeout,
		version:          opts.Version,
		started:          time.Now(),
		log:              log.Module("http"),
	}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ws", s.handleWebsocket)

		// Mutating and probing endpoints get a deadline; the feed above does not.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/controllers", s.handleListControllers)
			r.Post("/controllers", s.handleCreateController)
			r.Route("/controllers/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetController)
				r.Delete("/", s.handleDeleteController)
				r.Get("/properties", s.handleGetProperties)
				r.Patch("/properties", s.handlePatchProperties)
				r.Post("/ping", s.handlePing)
				r.Post("/move", s.handleMoveController)
			})
			r.Post("/discover", s.handleDiscover)
			r.Get("/interfaces", s.handleInterfaces)
			r.Get("/settings", s.handleSettings)
			r.Get("/ping-snapshots", s.handleListSnapshots)
			r.Get("/ping-snapshots/{name}", s.handleGetSnapshot)
			r.Get("/channels/{ch}", s.handleGetChannel)
			r.Put("/channels/{ch}", s.handleSetChannel)
			r.Post("/blackout", s.handleBlackout)
			r.Post("/save", s.handleSave)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var count int
	s.show.View(func(om *outputs.Manager) { count = om.Count() })
	resp := map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"version":     s.version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"controllers": count,
		"dirty":       s.show.IsDirty(),
	}
	if s.channels != nil {
		resp["dmxHighRate"] = s.channels.IsHighRate()
	}
	if s.ps != nil {
		resp["pingSubscribers"] = s.ps.SubscriberCount(pubsub.TopicPingState)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInterfaces lists the interfaces discovery and output can use.
func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	options, err := s.interfaces()
	if err != nil {
		writeError(w, err)
		return
	}
	if options == nil {
		options = []network.InterfaceOption{}
	}
	writeJSON(w, http.StatusOK, options)
}

type errorResponse struct {
	Error    string `json:"error"`
	Property string `json:"property,omitempty"`

	// Applied names the edits of a rejected batch that were kept.
	Applied []string `json:"applied,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// writeError maps the outputs error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var verr *outputs.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		resp.Property = verr.Property
	case errors.Is(err, outputs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, outputs.ErrOutOfRange), errors.Is(err, outputs.ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, outputs.ErrNotOk):
		status = http.StatusConflict
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// statusWriter captures status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack passes through to the underlying writer so websockets can upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func requestLogger(log *logger.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(ww, r)

			log.With(logger.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.status,
				"bytes":      ww.bytes,
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
