// Package server exposes the caching engine over HTTP: the public asset
// routes plus a small admin surface for introspection and purging.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hivecast/cdncache/internal/cache"
	"github.com/hivecast/cdncache/pkg/metrics"
)

// maxSharedAge caps s-maxage so intermediate caches revisit us within a day
// even for long-lived entries, keeping purges effective downstream.
const maxSharedAge = 86400

// Server wires HTTP routes onto a Cache.
type Server struct {
	cache  *cache.Cache
	logger *slog.Logger
}

// New creates a Server around c.
func New(c *cache.Cache, logger *slog.Logger) *Server {
	return &Server{cache: c, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("GET /badge/{id}/{file}", s.badge)
	mux.HandleFunc("GET /emote/{id}/{file}", s.emote)
	mux.HandleFunc("GET /user/{user}/{avatarID}/{file}", s.userProfilePicture)
	mux.HandleFunc("GET /misc/{path...}", s.misc)
	mux.HandleFunc("GET /mascot.png", s.mascot)
	mux.HandleFunc("GET /admin/stats", s.stats)
	mux.HandleFunc("POST /admin/purge", s.purge)
	return mux
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintln(w, "Welcome to the Hivecast CDN!")
}

func (s *Server) badge(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, cache.BadgeKey(r.PathValue("id"), r.PathValue("file")))
}

func (s *Server) emote(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, cache.EmoteKey(r.PathValue("id"), r.PathValue("file")))
}

func (s *Server) userProfilePicture(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, cache.UserProfilePictureKey(
		r.PathValue("user"), r.PathValue("avatarID"), r.PathValue("file")))
}

func (s *Server) misc(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, cache.MiscKey(r.PathValue("path")))
}

func (s *Server) mascot(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, cache.MascotKey())
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, key cache.CacheKey) {
	WriteResponse(w, s.cache.HandleRequest(r.Context(), key))
}

// WriteResponse renders a cached result onto w: body, status and the cache
// header contract (Age, X-Cache, X-Cache-Hits, Cache-Control).
func WriteResponse(w http.ResponseWriter, res *cache.CachedResponse) {
	h := w.Header()

	if res.MaxAge == 0 {
		h.Set("Cache-Control", "no-cache")
	} else {
		prior := res.RecordHit()
		if prior == 0 {
			h.Set("X-Cache", "miss")
		} else {
			h.Set("X-Cache", "hit")
		}
		h.Set("X-Cache-Hits", strconv.FormatInt(prior, 10))

		age := int64(time.Since(res.CapturedAt).Seconds())
		if age < 0 {
			age = 0
		}
		h.Set("Age", strconv.FormatInt(age, 10))

		maxAge := int64(res.MaxAge.Seconds())
		h.Set("Cache-Control", fmt.Sprintf(
			"public, max-age=%d, s-maxage=%d, immutable",
			maxAge, min(maxAge, maxSharedAge)))
	}

	switch res.Response.Kind {
	case cache.ResponseBytes:
		if res.Response.ContentType != "" {
			h.Set("Content-Type", res.Response.ContentType)
		}
		h.Set("Content-Length", strconv.Itoa(res.Response.BodyLen()))
		w.WriteHeader(http.StatusOK)
		w.Write(res.Response.Body)
	case cache.ResponseRedirect:
		h.Set("Location", res.Response.Location)
		w.WriteHeader(http.StatusPermanentRedirect)
	case cache.ResponseNotFound:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

type statsResponse struct {
	Capacity      int64            `json:"capacity"`
	Entries       int              `json:"entries"`
	Size          int64            `json:"size"`
	Inflight      int              `json:"inflight"`
	Counters      metrics.Snapshot `json:"counters"`
	OriginLatency metrics.Stats    `json:"origin_latency_ms"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Capacity:      s.cache.Capacity(),
		Entries:       s.cache.Entries(),
		Size:          s.cache.Size(),
		Inflight:      s.cache.Inflight(),
		Counters:      s.cache.Metrics().Snapshot(),
		OriginLatency: s.cache.Metrics().OriginLatency().Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write stats response", "error", err)
	}
}

type purgeRequest struct {
	Key string `json:"key"`
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid purge request body", http.StatusBadRequest)
		return
	}

	key, err := cache.ParseKey(req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.cache.Purge(key)
	w.WriteHeader(http.StatusNoContent)
}
