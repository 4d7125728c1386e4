// Package api translates Inkstone's HTTP surface (spec.md §4.11/§6) onto
// the component contracts: search, kudos, pulse, Douban marks, comments,
// and the GitHub webhook.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"inkstone/internal/apierr"
	"inkstone/internal/comments"
	"inkstone/internal/config"
	"inkstone/internal/docindex"
	"inkstone/internal/githubapp"
	"inkstone/internal/identity"
	"inkstone/internal/kudoscache"
	"inkstone/internal/pulse"
	sq "inkstone/internal/query"
	"inkstone/internal/scheduler"
	"inkstone/internal/store"
	"inkstone/internal/validpaths"
)

type Server struct {
	cfg       config.Config
	index     *docindex.Index
	validSet  *validpaths.Set
	kudos     *kudoscache.Cache
	identity  *identity.Minter
	pulse     *pulse.Recorder
	store     *store.Store
	scheduler *scheduler.Runtime
	app       *githubapp.App
	log       *log.Logger
}

func New(cfg config.Config, index *docindex.Index, validSet *validpaths.Set, kudos *kudoscache.Cache, id *identity.Minter, pr *pulse.Recorder, st *store.Store, sched *scheduler.Runtime, app *githubapp.App, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "inkstone ", log.LstdFlags|log.LUTC)
	}
	return &Server{cfg: cfg, index: index, validSet: validSet, kudos: kudos, identity: id, pulse: pr, store: st, scheduler: sched, app: app, log: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Get("/search", s.handleSearch(false))
	r.Get("/v2/search", s.handleSearch(true))

	r.Get("/kudos", s.handleGetKudos)
	r.Put("/kudos", s.handlePutKudos)

	r.Post("/pulse/pv", s.handlePulsePV)
	r.Post("/pulse/engage", s.handlePulseEngage)

	r.Get("/douban/marks", s.handleDoubanMarks)
	r.Get("/v2/comments", s.handleComments)

	r.Post("/webhook/github", s.handleWebhook)

	if s.cfg.DebugEndpoints {
		r.Get("/debug/scheduler", s.handleDebugScheduler)
	}

	return r
}

// corsMiddleware allows the configured origins (INKSTONE_CORS_ALLOW_ORIGINS)
// to call the API from a browser; with no origins configured it is a no-op.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.CORSAllowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// handleDebugScheduler exposes scheduler task status, gated behind
// INKSTONE_DEBUG_ENDPOINTS since it reveals operational internals.
func (s *Server) handleDebugScheduler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func statusFor(err error) int {
	switch apierr.Classify(err) {
	case apierr.ErrValidation:
		return http.StatusBadRequest
	case apierr.ErrOversized:
		return http.StatusRequestURITooLong
	case apierr.ErrNotReady:
		return http.StatusServiceUnavailable
	case apierr.ErrUnauthorized:
		return http.StatusUnauthorized
	case apierr.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// Search

type searchHitResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle,omitempty"`
	URL             string   `json:"url"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	PublishedAt     string   `json:"published_at"`
	UpdatedAt       string   `json:"updated_at"`
	SnippetTitle    string   `json:"snippet_title,omitempty"`
	SnippetSubtitle string   `json:"snippet_subtitle,omitempty"`
	SnippetContent  string   `json:"snippet_content,omitempty"`
	Matched         *struct {
		Title    bool     `json:"title"`
		Tags     []string `json:"tags"`
		Category bool     `json:"category"`
	} `json:"matched,omitempty"`
}

type searchResponse struct {
	Total     uint64              `json:"total"`
	Hits      []searchHitResponse `json:"hits"`
	ElapsedMS *int64              `json:"elapsed_ms,omitempty"`
}

// handleSearch serves both /search and /v2/search (spec.md §9 Open
// Question 1's union resolution): identical query handling, /v2
// additionally returns subtitle, elapsed_ms, and the matched breakdown.
func (s *Server) handleSearch(v2 bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := sq.Parse(len(r.URL.RawQuery), r.URL.Query().Get("q"), r.URL.Query().Get("sort"))
		if err != nil {
			writeError(w, err)
			return
		}

		if s.cfg.DebugEndpoints && r.URL.Query().Get("debug") == "1" {
			writeJSON(w, http.StatusOK, map[string]any{"parsed_query": q})
			return
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || r.URL.Query().Get("limit") == "" {
			limit = s.cfg.MaxSearchLimit
		}

		result, err := s.index.Search(q, offset, limit, s.cfg.MaxSearchLimit)
		if err != nil {
			writeError(w, err)
			return
		}

		if s.store != nil {
			_ = s.store.InsertSearchEvent(r.Context(), sq.Serialize(q), len(result.Hits), result.ElapsedMS)
		}

		resp := searchResponse{Total: result.Total}
		for _, h := range result.Hits {
			hr := searchHitResponse{
				ID:          h.ID,
				Title:       h.Title,
				URL:         h.URL,
				Category:    h.Category,
				Tags:        h.Tags,
				PublishedAt: h.PublishedAt.Format(time.RFC3339),
				UpdatedAt:   h.UpdatedAt.Format(time.RFC3339),
			}
			if v2 {
				hr.Subtitle = h.Subtitle
				hr.SnippetTitle = h.SnippetTitle
				hr.SnippetSubtitle = h.SnippetSubtitle
				hr.SnippetContent = h.SnippetContent
				hr.Matched = &struct {
					Title    bool     `json:"title"`
					Tags     []string `json:"tags"`
					Category bool     `json:"category"`
				}{
					Title:    strings.Contains(h.SnippetTitle, "<b>"),
					Tags:     h.MatchedTags,
					Category: h.MatchedCategory,
				}
			}
			resp.Hits = append(resp.Hits, hr)
		}
		if v2 {
			resp.ElapsedMS = &result.ElapsedMS
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Kudos

func (s *Server) bidTokenMinting(w http.ResponseWriter, r *http.Request) string {
	if token, ok := s.identity.FromRequest(r); ok {
		return token
	}
	token, cookie, err := s.identity.Mint()
	if err != nil {
		return ""
	}
	http.SetCookie(w, cookie)
	return token
}

func (s *Server) handleGetKudos(w http.ResponseWriter, r *http.Request) {
	if !s.validSet.Ready() {
		writeError(w, apierr.ErrNotReady)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierr.ErrValidation)
		return
	}
	if !s.validSet.Contains(path) {
		writeError(w, apierr.ErrNotFound)
		return
	}

	token := s.bidTokenMinting(w, r)
	interactionID := s.identity.DailyStatsId(token, time.Now())
	count, interacted := s.kudos.Get(path, interactionID)
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "interacted": interacted})
}

func (s *Server) handlePutKudos(w http.ResponseWriter, r *http.Request) {
	if !s.validSet.Ready() {
		writeError(w, apierr.ErrNotReady)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierr.ErrValidation)
		return
	}

	token, ok := s.identity.FromRequest(r)
	if !ok {
		writeError(w, apierr.ErrUnauthorized)
		return
	}
	if !s.validSet.Contains(path) {
		writeError(w, apierr.ErrNotFound)
		return
	}

	interactionID := s.identity.DailyStatsId(token, time.Now())
	count, _ := s.kudos.PutKudos(path, interactionID, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "interacted": true})
}

// Pulse

type pulsePVRequest struct {
	PageInstanceID string `json:"page_instance_id"`
	Path           string `json:"path"`
}

func (s *Server) handlePulsePV(w http.ResponseWriter, r *http.Request) {
	if !s.validSet.Ready() {
		writeError(w, apierr.ErrNotReady)
		return
	}
	var req pulsePVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.ErrValidation)
		return
	}
	if !s.validSet.Contains(req.Path) {
		writeError(w, apierr.ErrNotFound)
		return
	}

	token := s.bidTokenMinting(w, r)
	userStatsID := s.identity.DailyStatsId(token, time.Now())
	ua, referer, cfCountry, xff := pulse.ExtractHeaders(r)

	err := s.pulse.RecordPageView(r.Context(), pulse.PageView{
		PageInstanceID: req.PageInstanceID,
		Path:           req.Path,
		UserStatsID:    userStatsID,
		UserAgent:      ua,
		Referer:        referer,
		CFIPCountry:    cfCountry,
		XForwardedFor:  xff,
	}, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pulseEngageRequest struct {
	PageInstanceID string `json:"page_instance_id"`
	DurationMS     int64  `json:"duration_ms"`
}

func (s *Server) handlePulseEngage(w http.ResponseWriter, r *http.Request) {
	var req pulseEngageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.ErrValidation)
		return
	}
	if err := s.pulse.RecordEngagement(r.Context(), req.PageInstanceID, req.DurationMS); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Douban

func (s *Server) handleDoubanMarks(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListDoubanItems(r.Context())
	if err != nil {
		writeError(w, apierr.ErrUpstream)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Comments

// handleComments serves /v2/comments?post_id=/…/[&after=<comment_id>]. The
// after parameter is a cursor-free "load more top-level comments" cut:
// everything at or before the named comment_id is dropped from the
// response, replies stay nested under their still-returned parent.
func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	postID := r.URL.Query().Get("post_id")
	if postID == "" {
		writeError(w, apierr.ErrValidation)
		return
	}
	tree, err := comments.Tree(r.Context(), s.store, postID)
	if err != nil {
		writeError(w, apierr.ErrUpstream)
		return
	}
	if after := r.URL.Query().Get("after"); after != "" {
		tree = commentsAfter(tree, after)
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": tree})
}

func commentsAfter(tree []comments.Comment, after string) []comments.Comment {
	for i, c := range tree {
		if c.CommentID == after {
			return tree[i+1:]
		}
	}
	return tree
}

// GitHub webhook

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.app == nil {
		writeError(w, apierr.ErrNotReady)
		return
	}
	body, err := s.app.VerifyWebhook(r)
	if err != nil {
		writeError(w, apierr.ErrUnauthorized)
		return
	}
	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		writeError(w, apierr.ErrValidation)
		return
	}

	if eventType == "ping" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if githubapp.CheckRunCompletedSuccess(eventType, body) {
		s.scheduler.RequestRerun("feed-refresh", "valid-paths-refresh")
	}
	w.WriteHeader(http.StatusAccepted)
}
