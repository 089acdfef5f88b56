// Package server implements the ShelfStore HTTP server and S3-compatible route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/shelfstore/shelfstore/internal/config"
	"github.com/shelfstore/shelfstore/internal/engine"
	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/handlers"
	"github.com/shelfstore/shelfstore/internal/xmlutil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the ShelfStore HTTP server. It routes incoming requests to the
// appropriate S3-compatible handler based on the request method, path, and
// query parameters.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	eng        *engine.Engine
	bucket     *handlers.BucketHandler
	object     *handlers.ObjectHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server over the given engine and wires up all
// S3-compatible routes on the Chi router with Huma API.
func New(cfg *config.Config, eng *engine.Engine) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("ShelfStore API", "1.0.0")
	// Infra endpoints live under /_ so they can never shadow a bucket:
	// bucket names must start with a lowercase letter or digit.
	humaConfig.DocsPath = "/_docs"
	humaConfig.OpenAPIPath = "/_openapi"
	humaConfig.SchemasPath = "/_schemas"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		eng:    eng,
	}

	ownerID := cfg.Owner.ID
	ownerDisplay := cfg.Owner.DisplayName
	region := cfg.Server.Region

	s.bucket = handlers.NewBucketHandler(eng, ownerID, ownerDisplay, region)
	s.object = handlers.NewObjectHandler(eng, ownerID, ownerDisplay, cfg.Server.MaxObjectSize)

	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
// Middleware chain: metricsMiddleware -> commonHeaders -> metadataHeaderMiddleware -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (must be innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wired handler chain. Used by tests to serve
// requests without binding a socket.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = metadataHeaderMiddleware(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// registerRoutes configures all routes on the Chi router.
// Infra routes (/_health, /_docs, /_openapi.json, /_metrics) are registered
// first; the S3 catch-all /* is registered last. Chi matches more specific
// routes first, and the /_ prefix keeps them out of the bucket namespace.
func (s *Server) registerRoutes() {
	// Register /_health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/_health",
		Summary:     "Health check",
		Description: "Returns the health status of the ShelfStore server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		if err := s.eng.Ping(ctx); err != nil {
			return nil, huma.Error503ServiceUnavailable("store unavailable")
		}
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /_health separately (Huma only does one method per registration).
	s.router.Head("/_health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	// Register /_metrics via promhttp.Handler().
	s.router.Handle("/_metrics", promhttp.Handler())

	// S3 catch-all: all remaining requests go through the dispatch function.
	// Chi matches the /_ infra routes first, then falls through to the
	// catch-all, so every bucket-shaped path reaches the S3 dispatcher.
	s.router.HandleFunc("/*", s.dispatch)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}",
// and ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// dispatch is the main request dispatcher. It parses the path to extract
// bucket and object key, then routes by HTTP method and query parameters.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	// Service-level operations (no bucket in path).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.bucket.ListBuckets(w, r)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
		return
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case q.Has("retention"):
				s.object.PutObjectRetention(w, r)
			case q.Has("legal-hold"):
				s.object.PutObjectLegalHold(w, r)
			case r.Header.Get("X-Amz-Copy-Source") != "":
				s.object.CopyObject(w, r)
			case q.Has("acl") || q.Has("tagging"):
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			default:
				s.object.PutObject(w, r)
			}
		case http.MethodGet:
			switch {
			case q.Has("retention"):
				s.object.GetObjectRetention(w, r)
			case q.Has("legal-hold"):
				s.object.GetObjectLegalHold(w, r)
			case q.Has("acl") || q.Has("tagging"):
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			default:
				s.object.GetObject(w, r)
			}
		case http.MethodHead:
			s.object.HeadObject(w, r)
		case http.MethodDelete:
			s.object.DeleteObject(w, r)
		case http.MethodPost:
			// Multipart uploads and POST-object are outside the surface.
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
		return
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodPut:
		switch {
		case q.Has("versioning"):
			s.bucket.PutBucketVersioning(w, r)
		case q.Has("object-lock"):
			s.bucket.PutObjectLockConfiguration(w, r)
		case q.Has("acl") || q.Has("lifecycle") || q.Has("policy"):
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		default:
			s.bucket.CreateBucket(w, r)
		}
	case http.MethodGet:
		switch {
		case q.Has("location"):
			s.bucket.GetBucketLocation(w, r)
		case q.Has("versioning"):
			s.bucket.GetBucketVersioning(w, r)
		case q.Has("object-lock"):
			s.bucket.GetObjectLockConfiguration(w, r)
		case q.Has("versions"):
			s.object.ListObjectVersions(w, r)
		case q.Has("acl") || q.Has("lifecycle") || q.Has("policy") || q.Has("list-type"):
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
	case http.MethodHead:
		s.bucket.HeadBucket(w, r)
	case http.MethodDelete:
		s.bucket.DeleteBucket(w, r)
	case http.MethodPost:
		if q.Has("delete") {
			s.object.DeleteObjects(w, r)
		} else {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
	}
}
