// Package httpapi exposes a pathdb.Store over HTTP.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/andreyvit/pathdb"
)

const (
	AuthorHeader = "X-WIW-Author"

	defaultMaxBodySize = 1 << 20
)

type Options struct {
	Logger *zap.Logger

	// Gatherer, if set, is served at /metrics.
	Gatherer prometheus.Gatherer

	// MaxBodySize limits request bodies. Defaults to 1 MiB.
	MaxBodySize int64
}

type Server struct {
	store       *pathdb.Store
	logger      *zap.Logger
	gatherer    prometheus.Gatherer
	maxBodySize int64
}

func New(store *pathdb.Store, opt Options) *Server {
	s := &Server{
		store:       store,
		logger:      opt.Logger,
		gatherer:    opt.Gatherer,
		maxBodySize: opt.MaxBodySize,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxBodySize <= 0 {
		s.maxBodySize = defaultMaxBodySize
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	for _, p := range []string{"/alias", "/all", "/list"} {
		r.Get(p, s.all)
	}
	r.Get("/alias/{key}", s.exists)
	r.Get("/list/{key}", s.exists)

	r.Route("/alias/{key}/{value}", func(r chi.Router) {
		r.Get("/", s.one)
		r.Post("/", s.put)
		r.Put("/", s.put)
		r.Get("/data/*", s.oneData)
		r.Post("/data/*", s.putData)
		r.Put("/data/*", s.putData)
		r.Get("/history", s.history)
		r.Get("/history/*", s.history)
	})
	r.Get("/list/{key}/{value}", s.list)
	r.Get("/list/{key}/{value}/data/*", s.listData)
	return r
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("author", r.Header.Get(AuthorHeader)),
			)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	state := pathdb.StateReady
	if lb, ok := s.store.Backend().(*pathdb.LazyBackend); ok {
		state = lb.State()
	}
	status := http.StatusOK
	if state != pathdb.StateReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"state": state.String()})
}

func (s *Server) all(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListAll(r.Context())
	s.respond(w, r, docs, err)
}

func (s *Server) exists(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.Exists(r.Context(), param(r, "key"))
	s.respond(w, r, docs, err)
}

func (s *Server) one(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.FindOne(r.Context(), param(r, "key"), lookupValue(r))
	s.respond(w, r, doc, err)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.FindByValue(r.Context(), param(r, "key"), lookupValue(r))
	s.respond(w, r, docs, err)
}

func (s *Server) put(w http.ResponseWriter, r *http.Request) {
	author, ok := requireAuthor(w, r)
	if !ok {
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	doc, err := s.store.PutAt(r.Context(), author, param(r, "key"), lookupValue(r), nil, body)
	s.respond(w, r, doc, err)
}

func (s *Server) oneData(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.FindOne(r.Context(), param(r, "key"), lookupValue(r))
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	v, found := pathdb.Lookup(doc, dataPath(r))
	if !found || v == nil || v.Kind() == pathdb.KindNull {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) putData(w http.ResponseWriter, r *http.Request) {
	author, ok := requireAuthor(w, r)
	if !ok {
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	doc, err := s.store.PutAt(r.Context(), author, param(r, "key"), lookupValue(r), dataPath(r), body)
	s.respond(w, r, doc, err)
}

// listData maps every matching document to its value at the data path,
// flattening list values one level. Documents without the value yield null.
func (s *Server) listData(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.FindByValue(r.Context(), param(r, "key"), lookupValue(r))
	if err != nil || len(docs) == 0 {
		s.respond(w, r, docs, err)
		return
	}
	at := dataPath(r)
	out := pathdb.List{}
	for _, doc := range docs {
		v, found := pathdb.Lookup(doc, at)
		switch {
		case !found:
			out = append(out, pathdb.Null{})
		case v.Kind() == pathdb.KindList:
			out = append(out, v.(pathdb.List)...)
		default:
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	subpath := pathdb.JoinPath(dataPath(r)...)
	hist, err := s.store.History(r.Context(), param(r, "key"), lookupValue(r), subpath)
	if hist == nil && err == nil {
		writeNotFound(w)
		return
	}
	s.respond(w, r, hist, err)
}

func requireAuthor(w http.ResponseWriter, r *http.Request) (string, bool) {
	author := r.Header.Get(AuthorHeader)
	if author == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{"no " + AuthorHeader + " header"})
		return "", false
	}
	return author, true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (pathdb.Value, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &pathdb.ValidationError{Msg: "request body too large"}
		}
		return nil, err
	}
	v, err := pathdb.ParseJSON(data)
	if err != nil {
		return nil, &pathdb.ValidationError{Msg: "invalid JSON body: " + err.Error()}
	}
	return v, nil
}

func param(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func lookupValue(r *http.Request) pathdb.Value {
	return pathdb.ParseLookup(param(r, "value"))
}

// dataPath returns the segments of the wildcard tail, e.g. ["a", "b"] for .../data/a/b.
func dataPath(r *http.Request) []string {
	tail := strings.Trim(param(r, "*"), "/")
	if tail == "" {
		return nil
	}
	return strings.Split(tail, "/")
}
