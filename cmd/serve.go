package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/export"
	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/outreach"
	"github.com/saribumi/brandreach/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API mirroring the CLI operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// Outreach routes need a gateway session; a discovery-only
		// deployment can run without one.
		var sched *outreach.Scheduler
		if cfg.Gateway.BaseURL != "" {
			sched, err = initScheduler(st)
			if err != nil {
				return err
			}
		} else {
			zap.L().Warn("gateway not configured, outreach endpoints disabled")
		}

		r := buildRouter(ctx, st, sched)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires every route. A nil scheduler disables outreach routes
// with 503 responses.
func buildRouter(ctx context.Context, st store.Store, sched *outreach.Scheduler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/discover", handleDiscover(ctx, st))
	r.Get("/brands", handleListBrands(st))
	r.Get("/brands/{key}/contacts", handleBrandContacts(st))
	r.Get("/stats", handleStats(st))
	r.Get("/export", handleExport(st))
	r.Post("/outreach/send", handleSend(sched))
	r.Post("/outreach/bulk", handleBulk(sched))

	return r
}

// handleDiscover accepts a topic and runs discovery asynchronously; the
// response acknowledges the request before the pass completes.
func handleDiscover(ctx context.Context, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Topic      string `json:"topic"`
			MaxResults int    `json:"max_results"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Topic == "" {
			writeJSONError(w, http.StatusBadRequest, "topic is required")
			return
		}

		go func() {
			result, err := runDiscovery(ctx, st, body.Topic, body.MaxResults)
			if err != nil {
				zap.L().Error("async discovery failed",
					zap.String("topic", body.Topic),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("async discovery complete",
				zap.String("topic", body.Topic),
				zap.Int("brands", result.Brands),
				zap.Int("contacts", result.ContactsStored),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"topic":  body.Topic,
		})
	}
}

func handleListBrands(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := queryInt(req, "limit", 50)
		offset := queryInt(req, "offset", 0)

		brands, err := st.ListBrands(req.Context(), limit, offset)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"brands": brands})
	}
}

func handleBrandContacts(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")

		brand, err := st.GetBrand(req.Context(), key)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if brand == nil {
			writeJSONError(w, http.StatusNotFound, "brand not found")
			return
		}

		contacts, err := st.ContactsForBrand(req.Context(), key)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"brand": brand, "contacts": contacts})
	}
}

func handleStats(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		stats, err := st.Stats(req.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleExport(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rows, err := st.Snapshot(req.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="contacts.csv"`)
		if err := export.WriteCSV(w, rows); err != nil {
			zap.L().Error("export write failed", zap.Error(err))
		}
	}
}

func handleSend(sched *outreach.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if sched == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "gateway not configured")
			return
		}

		var body struct {
			ContactID  string `json:"contact_id"`
			TemplateID string `json:"template_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.ContactID == "" {
			writeJSONError(w, http.StatusBadRequest, "contact_id is required")
			return
		}
		if body.TemplateID == "" {
			body.TemplateID = "introduction"
		}

		rec, err := sched.Send(req.Context(), body.ContactID, body.TemplateID)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleBulk(sched *outreach.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if sched == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "gateway not configured")
			return
		}

		var body struct {
			Channel    string `json:"channel"`
			TemplateID string `json:"template_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Channel == "" {
			body.Channel = string(model.ChannelPhone)
		}
		if body.TemplateID == "" {
			body.TemplateID = "introduction"
		}

		channel, err := parseChannel(body.Channel)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		report, err := sched.RunBatch(req.Context(), channel, body.TemplateID)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(req *http.Request, key string, def int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
