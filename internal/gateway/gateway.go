// Package gateway implements the HTTP Gateway (C7, spec §4.6): hostname
// routing to a loaded application, endpoint paths converted to correlated
// HTTP events awaited through the application's Mailbox, and static
// content served straight from the app's www/ VFS subtree. Grounded on
// cmd/gateway/main.go's router/middleware assembly and registerRoutes.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/internal/manifest"
	"github.com/hermes-engine/hermes/internal/middleware"
	"github.com/hermes-engine/hermes/internal/queue"
	"github.com/hermes-engine/hermes/internal/registry"
	"github.com/hermes-engine/hermes/pkg/logger"
)

// Config controls gateway-wide behavior (spec §4.6, §6 env vars).
type Config struct {
	AuthActivate                bool // HERMES_AUTH_ACTIVATE; false disables every auth rule
	RedirectAllowedHosts        []string
	RedirectAllowedPathPrefixes []string
	RequestTimeout              time.Duration
	BodyLimitBytes              int64
	CORS                        middleware.CORSConfig

	RateLimiter *middleware.RateLimiter // nil disables rate limiting
	Metrics     *middleware.Metrics     // nil disables request metrics
}

// Gateway is the engine's HTTP ingress: one instance fronts every loaded
// application, routed by Host header.
type Gateway struct {
	reg       *registry.Registry
	q         *queue.Queue
	log       *logger.Logger
	cfg       Config
	validator CredentialValidator

	router *mux.Router
}

// New builds a Gateway. validator may be nil, in which case authenticated
// routes always fail closed with herrors.AuthRequired.
func New(reg *registry.Registry, q *queue.Queue, log *logger.Logger, cfg Config, validator CredentialValidator) *Gateway {
	if log == nil {
		log = logger.NewDefault("gateway")
	}

	gw := &Gateway{reg: reg, q: q, log: log, cfg: cfg, validator: validator}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}
	r.Use(middleware.SecurityHeaders(nil))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.PathPrefix("/").HandlerFunc(gw.handle)
	gw.router = r

	return gw
}

// Handler returns the assembled http.Handler for use with http.Server.
func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	w = &redirectGuard{
		ResponseWriter:      w,
		allowedHosts:        g.cfg.RedirectAllowedHosts,
		allowedPathPrefixes: g.cfg.RedirectAllowedPathPrefixes,
	}

	host := hostOnly(r.Host)
	app, ok := g.reg.LookupByHost(host)
	if !ok {
		middleware.WriteError(w, r, herrors.NoRoute(host))
		return
	}

	rules, err := compileAuthRules(app.Pkg.App.AuthRules, app.Pkg.App.DefaultAuthLevel)
	if err != nil {
		middleware.WriteError(w, r, herrors.BadPackage(err))
		return
	}

	if g.cfg.AuthActivate {
		level := authLevelFor(rules, app.Pkg.App.DefaultAuthLevel, r.Method, r.URL.Path)
		subject, authErr := g.authenticate(r)
		switch level {
		case "required":
			if authErr != nil {
				middleware.WriteError(w, r, herrors.AuthRequired(authErr.Error()))
				return
			}
		case "optional":
			// subject may be empty; handlers decide what to do with it.
		case "none":
		}
		_ = subject
	}

	if isEndpointPath(app.Pkg.App.Endpoints, r.URL.Path) {
		g.dispatchHTTPEvent(w, r, app)
		return
	}

	g.serveStatic(w, r, app)
}

func (g *Gateway) authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", herrors.AuthRequired("missing bearer token")
	}
	if g.validator == nil {
		return "", herrors.AuthRequired("no credential validator configured")
	}
	subject, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		return "", herrors.AuthRejected(err.Error())
	}
	return subject, nil
}

func isEndpointPath(endpoints []manifest.EndpointDecl, path string) bool {
	if strings.HasPrefix(path, "/api/") {
		return true
	}
	for _, e := range endpoints {
		if strings.HasPrefix(path, e.PathPrefix) {
			return true
		}
	}
	return false
}

// dispatchHTTPEvent turns the request into a correlated HTTP event,
// enqueues it, and blocks until the Mailbox fulfills the correlation or
// the request's deadline (spec's gateway timeout) expires.
func (g *Gateway) dispatchHTTPEvent(w http.ResponseWriter, r *http.Request, app *registry.AppState) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		middleware.WriteError(w, r, herrors.BadReply(err))
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	payload, err := json.Marshal(httpPayload{Method: r.Method, Path: r.URL.Path, Headers: headers, Body: body})
	if err != nil {
		middleware.WriteError(w, r, herrors.BadReply(err))
		return
	}

	correlationID := uuid.NewString()
	replyCh := app.Mailbox.Register(correlationID)

	err = g.q.Enqueue(&event.Event{
		SourceTag:     event.SourceHTTP,
		StreamKey:     hostOnly(r.Host),
		Target:        event.Target{AppNames: []string{app.Name}},
		Payload:       payload,
		CorrelationID: correlationID,
	})
	if err != nil {
		app.Mailbox.Cancel(correlationID)
		middleware.WriteError(w, r, err)
		return
	}

	deadline := g.cfg.RequestTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), deadline)
	defer cancel()

	select {
	case reply := <-replyCh:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(reply)
	case <-ctx.Done():
		app.Mailbox.Cancel(correlationID)
		middleware.WriteError(w, r, herrors.UpstreamTimeout())
	}
}

// httpPayload is the JSON-encoded Payload carried by a SourceHTTP event:
// method, path, headers, and body, exactly what spec §4.6 says an HTTP
// event must carry.
type httpPayload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

func hostOnly(hostport string) string {
	if host, _, err := splitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func splitHostPort(hostport string) (string, string, error) {
	u, err := url.Parse("//" + hostport)
	if err != nil {
		return "", "", err
	}
	return u.Hostname(), u.Port(), nil
}
