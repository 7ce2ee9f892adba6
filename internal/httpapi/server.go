package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"annotd/internal/annotate"
	"annotd/internal/appmeta"
	"annotd/internal/params"
	"annotd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Metadata() *appmeta.Metadata
	Annotate(ctx context.Context, doc *types.Document, in params.Input) (*annotate.Output, error)
	DeviceName(ctx context.Context) string
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON responses
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pretty := q.Has(annotate.ParamPretty) && params.Truthy(q.Get(annotate.ParamPretty))
		writeJSON(w, http.StatusOK, svc.Metadata(), pretty)
	})

	annotateHandler := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		logEvent(r, LevelInfo).Str("request_id", rid).Str("method", r.Method).Msg("annotate start")

		// Limit body size (configurable, default 64MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		doc, err := types.ParseDocument(body)
		if err != nil {
			err = annotate.ErrBadInput("invalid document: %v", err)
			annotateOutcomes.WithLabelValues(annotate.StatusBadInput.String()).Inc()
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if annotateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, annotateTimeout)
			defer tcancel()
		}

		out, err := svc.Annotate(ctx, doc, params.RawParams(r.URL.Query()))
		if err != nil {
			// If context was canceled (client disconnect or shutdown), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				writeJSONError(w, http.StatusGatewayTimeout, "annotate timed out")
				return
			}
			st := annotate.Classify(err)
			code := httpStatus(st)
			annotateOutcomes.WithLabelValues(st.String()).Inc()
			logEvent(r, LevelInfo).Str("request_id", rid).Int("status", code).Dur("dur", time.Since(start)).Err(err).Msg("annotate end")
			writeJSONError(w, code, err.Error())
			return
		}
		b, err := out.Serialize()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
		code := httpStatus(out.Status)
		annotateOutcomes.WithLabelValues(out.Status.String()).Inc()
		logEvent(r, LevelInfo).
			Str("request_id", rid).
			Str("invocation", out.InvocationID).
			Int("status", code).
			Dur("dur", time.Since(start)).
			Msg("annotate end")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(b)
	}
	r.Post("/", annotateHandler)
	r.Put("/", annotateHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.HealthResponse{
			Status: "ready",
			App:    svc.Metadata().Identifier,
			Device: svc.DeviceName(r.Context()),
		}, false)
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
