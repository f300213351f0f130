package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hazyhaar/dashctl/kit"
	"github.com/hazyhaar/dashctl/section"
	"github.com/hazyhaar/dashctl/theme"
)

// Routes returns the HTTP API.
func (c *Console) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(stampContext)
	if len(c.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: c.origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	show := c.endpoint("show", c.showEndpoint)
	diagnose := c.endpoint("diagnose", c.diagnoseEndpoint)
	sections := c.endpoint("sections", c.sectionsEndpoint)
	themeGet := c.endpoint("theme_get", c.themeGetEndpoint)
	themeSet := c.endpoint("theme_set", c.themeSetEndpoint)
	themeToggle := c.endpoint("theme_toggle", c.themeToggleEndpoint)
	journal := c.endpoint("journal", c.journalEndpoint)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sections", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("diagnose") == "1" {
				respond(w, r, diagnose, &DiagnoseRequest{})
				return
			}
			respond(w, r, sections, nil)
		})
		r.Get("/sections/{id}", func(w http.ResponseWriter, r *http.Request) {
			respond(w, r, diagnose, &DiagnoseRequest{ID: chi.URLParam(r, "id")})
		})
		r.Post("/sections/{id}/show", func(w http.ResponseWriter, r *http.Request) {
			respond(w, r, show, &ShowRequest{ID: chi.URLParam(r, "id")})
		})

		r.Get("/theme", func(w http.ResponseWriter, r *http.Request) {
			respond(w, r, themeGet, nil)
		})
		r.Put("/theme", func(w http.ResponseWriter, r *http.Request) {
			var req ThemeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
				return
			}
			respond(w, r, themeSet, &req)
		})
		r.Post("/theme/toggle", func(w http.ResponseWriter, r *http.Request) {
			respond(w, r, themeToggle, nil)
		})

		r.Get("/journal", func(w http.ResponseWriter, r *http.Request) {
			respond(w, r, journal, &JournalRequest{
				SectionID: r.URL.Query().Get("section"),
				Limit:     queryInt(r, "limit", 50),
			})
		})
	})
	return r
}

// stampContext tags the request context for the journal.
func stampContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), kit.TransportHTTP)
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func respond(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	resp, err := ep(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, section.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, theme.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, ErrJournalDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
