// Package httptransport exposes the stored advisories over HTTP: native
// JSON, RSS, OSV, and the updateinfo.xml DNF consumes.
package httptransport

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
	"github.com/resf/apollo/osv"
	"github.com/resf/apollo/rss"
	"github.com/resf/apollo/updateinfo"
)

// Arches the updateinfo route accepts.
var knownArches = map[string]struct{}{
	"x86_64":  {},
	"aarch64": {},
	"ppc64le": {},
	"s390x":   {},
	"riscv64": {},
	"i686":    {},
}

// Server routes API requests to the store and renderers.
type Server struct {
	store datastore.Store
	gen   *updateinfo.Generator
	osv   *osv.Renderer
	rss   *rss.Renderer
}

// Option configures a Server.
type Option func(*Server)

// WithOSVRenderer overrides the zero-value OSV renderer.
func WithOSVRenderer(r *osv.Renderer) Option {
	return func(s *Server) { s.osv = r }
}

// WithRSSRenderer overrides the zero-value RSS renderer.
func WithRSSRenderer(r *rss.Renderer) Option {
	return func(s *Server) { s.rss = r }
}

// New returns the API handler.
func New(store datastore.Store, gen *updateinfo.Generator, opts ...Option) http.Handler {
	srv := &Server{
		store: store,
		gen:   gen,
		osv:   &osv.Renderer{},
		rss:   &rss.Renderer{},
	}
	for _, o := range opts {
		o(srv)
	}

	r := chi.NewRouter()
	r.Route("/api/v3", func(r chi.Router) {
		r.Get("/updateinfo/{productSlug}/{major}/{repo}/updateinfo.xml", srv.updateinfoHandler)
		r.Get("/lastindexed", srv.lastIndexedHandler)
		r.Get("/advisories", srv.listHandler)
		r.Get("/advisories/{name}", srv.getHandler)
		r.Get("/advisories/{name}/osv", srv.osvHandler)
		r.Get("/rss", srv.rssHandler)
	})
	return r
}

// WriteError maps the error taxonomy onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, apollo.ErrProductUnknown), errors.Is(err, apollo.ErrSliceEmpty):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, apollo.ErrCanceled):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		zlog.Error(r.Context()).Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) updateinfoHandler(w http.ResponseWriter, r *http.Request) {
	major, err := strconv.Atoi(chi.URLParam(r, "major"))
	if err != nil {
		http.Error(w, "bad major version", http.StatusBadRequest)
		return
	}
	arch := r.URL.Query().Get("arch")
	if _, ok := knownArches[arch]; !ok {
		http.Error(w, "missing or invalid arch", http.StatusBadRequest)
		return
	}
	req := updateinfo.Request{
		ProductSlug:  chi.URLParam(r, "productSlug"),
		MajorVersion: major,
		RepoName:     chi.URLParam(r, "repo"),
		Arch:         arch,
	}
	if mv := r.URL.Query().Get("minor_version"); mv != "" {
		minor, err := strconv.Atoi(mv)
		if err != nil {
			http.Error(w, "bad minor version", http.StatusBadRequest)
			return
		}
		req.MinorVersion = &minor
	}

	doc, err := s.gen.Generate(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		zlog.Warn(r.Context()).Err(err).Msg("failed writing updateinfo")
	}
}

func (s *Server) lastIndexedHandler(w http.ResponseWriter, r *http.Request) {
	ts, err := s.store.GetLastIndexedAt(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var out *string
	if ts != nil {
		s := ts.UTC().Format(time.RFC3339)
		out = &s
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		LastIndexedAt *string `json:"last_indexed_at"`
	}{out})
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	opts := datastore.ListOpts{}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind := apollo.AdvisoryKind(k)
		switch kind {
		case apollo.KindSecurity, apollo.KindBugFix, apollo.KindEnhancement:
			opts.Kind = &kind
		default:
			http.Error(w, "bad kind", http.StatusBadRequest)
			return
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	advisories, err := s.store.ListAdvisories(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Advisories []apollo.Advisory `json:"advisories"`
	}{advisories})
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.advisory(w, r)
	if a == nil || err != nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}

func (s *Server) osvHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.advisory(w, r)
	if a == nil || err != nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.osv.Render(a))
}

// Advisory loads the named advisory, writing the response on miss or error.
func (s *Server) advisory(w http.ResponseWriter, r *http.Request) (*apollo.Advisory, error) {
	name := strings.ToUpper(chi.URLParam(r, "name"))
	a, err := s.store.GetAdvisory(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return nil, err
	}
	if a == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil, nil
	}
	return a, nil
}

func (s *Server) rssHandler(w http.ResponseWriter, r *http.Request) {
	advisories, err := s.store.ListAdvisories(r.Context(), datastore.ListOpts{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	feed := s.rss.Render(advisories)
	out, err := feed.ToRss()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(out))
}
