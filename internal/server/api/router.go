package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/metrics"
)

// Routes builds the HTTP handler. m may be nil, which disables /metrics.
func (s *Server) Routes(m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if m != nil {
		r.Use(instrument(m))
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/topics", s.CreateTopic)
		r.Get("/topics", s.ListTopics)
		r.Get("/topics/{id}", s.GetTopic)
		r.Patch("/topics/{id}", s.UpdateTopic)
		r.Delete("/topics/{id}", s.DeleteTopic)
		r.Get("/topics/{id}/related", s.GetRelatedTopics)
		r.Get("/topics/{id}/relations", s.GetTopicRelations)

		r.Post("/relations", s.CreateRelation)
		r.Get("/relations", s.FindRelation)
		r.Get("/relations/{id}", s.GetRelation)
		r.Patch("/relations/{id}", s.UpdateRelation)
		r.Delete("/relations/{id}", s.DeleteRelation)

		r.Get("/types", s.ListTypes)
		r.Post("/types", s.ImportTypes)
		r.Get("/types/{typeID}", s.GetType)
		r.Post("/types/{typeID}/fields", s.AddField)
		r.Put("/types/{typeID}/fields/order", s.SetFieldOrder)

		r.Get("/search", s.Search)

		r.Post("/subscriptions", s.CreateSubscription)
		r.Get("/subscriptions", s.ListSubscriptions)
		r.Get("/subscriptions/{id}", s.GetSubscription)
		r.Patch("/subscriptions/{id}", s.UpdateSubscription)
		r.Delete("/subscriptions/{id}", s.DeleteSubscription)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// instrument records requests by route pattern, so ids do not explode the label set.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.RecordHTTPRequest(route, r.Method, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}
