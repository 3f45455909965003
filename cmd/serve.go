package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/export"
	"github.com/sells-group/canlidar/internal/pdal"
	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
	"github.com/sells-group/canlidar/internal/retrieve"
	"github.com/sells-group/canlidar/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		env, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env, serverOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			OutputDir:      cfg.Output.Dir,
			ReaderKind:     cfg.PDAL.Reader,
			WriterKind:     cfg.PDAL.Writer,
		})
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port))
	},
}

// serverOptions carries the config the handlers need.
type serverOptions struct {
	AllowedOrigins []string
	OutputDir      string
	ReaderKind     string
	WriterKind     string
}

// queryBody is the POST /v1/query payload: a query.Request plus the
// target year.
type queryBody struct {
	query.Request
	TargetYear *int `json:"target_year,omitempty"`
}

// planBody is the POST /v1/plan payload.
type planBody struct {
	queryBody
	Clip    bool   `json:"clip"`
	Merge   bool   `json:"merge"`
	Project string `json:"project,omitempty"`
}

type queryResponse struct {
	ID     string                `json:"id,omitempty"`
	Result *resolver.QueryResult `json:"result"`
}

type planResponse struct {
	Pipelines []pdal.Plan `json:"pipelines,omitempty"`
	Downloads []string    `json:"downloads,omitempty"`
}

func buildRouter(env *appEnv, opts serverOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", func(w http.ResponseWriter, req *http.Request) {
			var body queryBody
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			res, rec, err := resolveRequest(req.Context(), env, body.Request, body.TargetYear)
			if err != nil {
				writeQueryError(w, err)
				return
			}
			resp := queryResponse{Result: res}
			if rec != nil {
				resp.ID = rec.ID
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Post("/plan", func(w http.ResponseWriter, req *http.Request) {
			var body planBody
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			g, err := query.Build(req.Context(), body.Request, env.Deps)
			if err != nil {
				writeQueryError(w, err)
				return
			}
			res, err := env.Resolver.Resolve(req.Context(), g, body.TargetYear)
			if err != nil {
				writeQueryError(w, err)
				return
			}
			project := retrieve.Project(body.Project)
			plan, err := pdal.Build(pdal.Input{URLs: res.URLs, Geometry: res.Geometry}, pdal.Options{
				Clip:       body.Clip,
				MergeAll:   body.Merge,
				OutputDir:  filepath.Join(opts.OutputDir, project),
				Project:    project,
				ReaderKind: opts.ReaderKind,
				WriterKind: opts.WriterKind,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, planResponse{Pipelines: plan.Plans, Downloads: plan.Downloads})
		})

		r.Get("/queries", func(w http.ResponseWriter, req *http.Request) {
			if env.Store == nil {
				writeError(w, http.StatusNotImplemented, "history is disabled")
				return
			}
			q := req.URL.Query()
			filter := store.Filter{Project: q.Get("project")}
			var err error
			if filter.Year, err = intParam(q.Get("year")); err != nil {
				writeError(w, http.StatusBadRequest, "year must be an integer")
				return
			}
			if filter.Limit, err = intParam(q.Get("limit")); err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			if filter.Offset, err = intParam(q.Get("offset")); err != nil {
				writeError(w, http.StatusBadRequest, "offset must be an integer")
				return
			}
			recs, err := env.Store.ListQueries(req.Context(), filter)
			if err != nil {
				zap.L().Error("list queries failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "list queries failed")
				return
			}
			if recs == nil {
				recs = []store.Record{}
			}
			writeJSON(w, http.StatusOK, recs)
		})

		r.Get("/queries/{id}", func(w http.ResponseWriter, req *http.Request) {
			rec, ok := getRecord(w, req, env)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		r.Get("/queries/{id}/tiles.xlsx", func(w http.ResponseWriter, req *http.Request) {
			rec, ok := getRecord(w, req, env)
			if !ok {
				return
			}
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.ID+"_tiles.xlsx"))
			if err := export.EncodeXLSX(w, &rec.Result); err != nil {
				zap.L().Error("export tiles failed", zap.String("id", rec.ID), zap.Error(err))
			}
		})
	})

	return r
}

func getRecord(w http.ResponseWriter, req *http.Request, env *appEnv) (*store.Record, bool) {
	if env.Store == nil {
		writeError(w, http.StatusNotImplemented, "history is disabled")
		return nil, false
	}
	rec, err := env.Store.GetQuery(req.Context(), chi.URLParam(req, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "query not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("get query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get query failed")
		return nil, false
	}
	return rec, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// writeQueryError maps resolution errors to HTTP statuses.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, resolver.ErrNoMatch):
		writeError(w, http.StatusNotFound, "no tiles match the query")
	case errors.Is(err, query.ErrGeocodeMiss):
		writeError(w, http.StatusUnprocessableEntity, "address not found")
	case errors.Is(err, query.ErrUnknownArea):
		writeError(w, http.StatusUnprocessableEntity, "unknown area")
	default:
		zap.L().Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// resolvePort prefers the flag over the config value.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is cancelled.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
