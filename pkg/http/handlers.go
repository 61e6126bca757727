package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shortlink/pkg/analytics"
	"shortlink/pkg/auth"
	"shortlink/pkg/geo"
	"shortlink/pkg/logging"
	"shortlink/pkg/middleware"
	"shortlink/pkg/redirect"
	"shortlink/pkg/service"
	"shortlink/pkg/storage"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	linkService *service.LinkService
	resolver    *redirect.Resolver
	authService *auth.Service
	queries     *analytics.Queries
	clicks      storage.ClickStorage
	logger      *logging.Logger
}

func NewHandler(linkService *service.LinkService, resolver *redirect.Resolver, authService *auth.Service, queries *analytics.Queries, clicks storage.ClickStorage, logger *logging.Logger) *Handler {
	return &Handler{
		linkService: linkService,
		resolver:    resolver,
		authService: authService,
		queries:     queries,
		clicks:      clicks,
		logger:      logger,
	}
}

// Redirect is the hot path. The request is reduced to a RequestSnapshot at
// this boundary; nothing below the handler sees framework types.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	referrer := r.Header.Get("Referer")
	if referrer == "" {
		referrer = r.Header.Get("Referrer")
	}
	snapshot := analytics.RequestSnapshot{
		IP:           geo.ClientIP(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr),
		UserAgentRaw: r.UserAgent(),
		ReferrerRaw:  referrer,
	}

	outcome, err := h.resolver.Resolve(r.Context(), slug, snapshot)
	if err != nil {
		h.logger.Error(r.Context(), "redirect resolve failed", "slug", slug, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.LogRedirect(r.Context(), slug, string(outcome.Kind))

	switch outcome.Kind {
	case redirect.OutcomeRedirect:
		http.Redirect(w, r, outcome.DestinationURL, http.StatusMovedPermanently)
	case redirect.OutcomeGone:
		http.Error(w, "this link has expired", http.StatusGone)
	default:
		http.Error(w, "short link not found", http.StatusNotFound)
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resp, err := h.authService.Register(r.Context(), &creds)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resp, err := h.authService.Login(r.Context(), &creds)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resp, err := h.linkService.CreateLink(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSlugTaken):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, service.ErrRateLimited):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	link, err := h.linkService.GetLink(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.linkService.ListLinks(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req service.UpdateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.linkService.UpdateLink(r.Context(), slug, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.linkService.DeleteLink(r.Context(), slug); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LinkStats(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	link, err := h.linkService.GetLink(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	from, to := parseRange(r)
	summary, err := h.queries.Summary(r.Context(), link.ID, from, to)
	if err != nil {
		h.logger.Error(r.Context(), "stats query failed", "slug", slug, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) LinkTimeSeries(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	link, err := h.linkService.GetLink(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	from, to := parseRange(r)
	granularity := analytics.Granularity(r.URL.Query().Get("granularity"))
	points, err := h.queries.TimeSeries(r.Context(), link.ID, from, to, granularity)
	if err != nil {
		h.logger.Error(r.Context(), "time series query failed", "slug", slug, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

const (
	clicksDefaultLimit = 50
	clicksMaxLimit     = 500
	clicksCSVCap       = 10000
)

// LinkClicks lists the raw click events for a link, newest first, with
// ?page/limit/from/to. A client accepting text/csv gets the full matching
// range as a CSV download instead of a page.
func (h *Handler) LinkClicks(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	link, err := h.linkService.GetLink(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	from, to := parseRange(r)
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Now()
	}

	if strings.Contains(r.Header.Get("Accept"), "text/csv") {
		events, err := h.clicks.ListClicks(r.Context(), link.ID, from, to, clicksCSVCap, 0)
		if err != nil {
			h.logger.Error(r.Context(), "clicks export failed", "slug", slug, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeClicksCSV(w, slug, events)
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", clicksDefaultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > clicksMaxLimit {
		limit = clicksMaxLimit
	}

	events, err := h.clicks.ListClicks(r.Context(), link.ID, from, to, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(r.Context(), "clicks query failed", "slug", slug, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	total, err := h.clicks.CountClicks(r.Context(), link.ID, from, to)
	if err != nil {
		h.logger.Error(r.Context(), "clicks count failed", "slug", slug, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if events == nil {
		events = []*storage.ClickEvent{}
	}
	writeJSON(w, http.StatusOK, clickListResponse{
		Data: events,
		Pagination: pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + int64(limit) - 1) / int64(limit),
		},
	})
}

type clickListResponse struct {
	Data       []*storage.ClickEvent `json:"data"`
	Pagination pagination            `json:"pagination"`
}

type pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

func writeClicksCSV(w http.ResponseWriter, slug string, events []*storage.ClickEvent) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "clicks-"+slug+".csv"))

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "clicked_at", "ip", "user_agent", "referrer", "country", "city", "device_type", "browser", "os"})
	for _, e := range events {
		cw.Write([]string{
			e.ID.String(),
			e.ClickedAt.Format(time.RFC3339),
			e.IP,
			e.UserAgent,
			derefString(e.Referrer),
			derefString(e.Country),
			derefString(e.City),
			e.DeviceType,
			derefString(e.Browser),
			derefString(e.OS),
		})
	}
	cw.Flush()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func parseRange(r *http.Request) (from, to time.Time) {
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	return from, to
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func SetupRoutes(r *chi.Mux, handler *Handler, authMiddleware *middleware.AuthMiddleware) {
	r.Use(middleware.CorrelationID)
	r.Get("/health", handler.HealthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", handler.Register)
		r.Post("/auth/login", handler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Post("/links", handler.CreateLink)
			r.Get("/links", handler.ListLinks)
			r.Get("/links/{slug}", handler.GetLink)
			r.Patch("/links/{slug}", handler.UpdateLink)
			r.Delete("/links/{slug}", handler.DeleteLink)
			r.Get("/links/{slug}/stats", handler.LinkStats)
			r.Get("/links/{slug}/timeseries", handler.LinkTimeSeries)
			r.Get("/links/{slug}/clicks", handler.LinkClicks)
		})
	})
	r.Get("/r/{slug}", handler.Redirect)
}

// SetupRedirectRoutes wires only the hot path, for the standalone redirect
// binary.
func SetupRedirectRoutes(r *chi.Mux, handler *Handler) {
	r.Use(middleware.CorrelationID)
	r.Get("/health", handler.HealthCheck)
	r.Get("/r/{slug}", handler.Redirect)
}
