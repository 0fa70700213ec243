// Package devserver serves the application directory during development and
// tells open pages to reload after a rebuild.
package devserver

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/appbundle/internal/config"
	"github.com/wolfeidau/appbundle/internal/logger"
	"github.com/wolfeidau/appbundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	ClientPath = "/__appbundle/client.js"
	EventsPath = "/__appbundle/events"

	defaultHost          = "localhost"
	defaultListenTimeout = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// ErrProductionMode is returned when the server is created for a production build.
var ErrProductionMode = errors.New("dev server is only available in development mode")

//go:embed client.js
var clientScript []byte

var clientTag = []byte(`<script src="` + ClientPath + `"></script>`)

// Server is the development preview server.
type Server struct {
	cfg           config.DevServer
	logger        zerolog.Logger
	reloader      *Reloader
	host          string
	listenTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithHost sets the interface the server binds to.
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithListenTimeout bounds how long Listen retries a busy port.
func WithListenTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.listenTimeout = d
	}
}

func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if cfg.Mode != config.ModeDevelopment {
		return nil, ErrProductionMode
	}

	s := &Server{
		cfg:           cfg.DevServer,
		logger:        logger,
		reloader:      NewReloader(logger),
		host:          defaultHost,
		listenTimeout: defaultListenTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reloader returns the broadcaster used to notify connected pages.
func (s *Server) Reloader() *Reloader {
	return s.reloader
}

// Addr is the address the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.cfg.Port))
}

// Handler returns the complete request handler.
func (s *Server) Handler() (http.Handler, error) {
	var static http.Handler = s.static()
	if s.cfg.Compress {
		wrapper, err := gzhttp.NewWrapper(gzhttp.MinSize(gzhttp.DefaultMinSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip handler: %w", err)
		}
		static = wrapper(static)
	}

	mux := http.NewServeMux()
	mux.Handle("/", static)
	if s.cfg.Inline {
		mux.HandleFunc(ClientPath, serveClient)
		// event streams are not compressed
		mux.Handle(EventsPath, s.reloader)
	}

	withCORS := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})

	return logger.Requests(s.logger)(countRequests(withCORS.Handler(mux))), nil
}

// static serves ContentBase. With Inline set, HTML documents get the reload
// client injected.
func (s *Server) static() http.Handler {
	root := http.Dir(s.cfg.ContentBase)
	files := http.FileServer(root)
	if !s.cfg.Inline {
		return files
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if strings.HasSuffix(name, "/") {
			name += "index.html"
		}
		if path.Ext(name) != ".html" {
			files.ServeHTTP(w, r)
			return
		}

		f, err := root.Open(name)
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(f)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("file", name).Msg("Failed to read document")
			http.Error(w, "failed to read document", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(injectClient(body)))
	})
}

// injectClient places the reload script before the last </body>, or at the
// end of the document when there is none.
func injectClient(doc []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(doc), []byte("</body>"))
	if idx == -1 {
		return append(doc, clientTag...)
	}

	out := make([]byte, 0, len(doc)+len(clientTag))
	out = append(out, doc[:idx]...)
	out = append(out, clientTag...)
	return append(out, doc[idx:]...)
}

func serveClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(clientScript)
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telemetry.GetMetrics().RequestsTotal.Add(r.Context(), 1,
			metric.WithAttributes(attribute.String("method", r.Method)))
		next.ServeHTTP(w, r)
	})
}

// Listen binds the server address, retrying with exponential backoff while
// the port is in use.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	addr := s.Addr()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	ln, err := backoff.Retry(ctx, func() (net.Listener, error) {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			s.logger.Warn().Str("addr", addr).Msg("Address in use, retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(s.listenTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve handles requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	srv := newHTTPServer(ctx, handler)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	s.logger.Info().
		Str("url", "http://"+ln.Addr().String()).
		Str("content_base", s.cfg.ContentBase).
		Bool("compress", s.cfg.Compress).
		Bool("inline", s.cfg.Inline).
		Msg("Dev server listening")

	select {
	case err := <-errc:
		return fmt.Errorf("dev server failed: %w", err)
	case <-ctx.Done():
	}

	s.reloader.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down dev server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dev server failed: %w", err)
	}

	s.logger.Info().Msg("Dev server stopped")
	return nil
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// NewEvent builds the reload event for a set of rewritten files.
func NewEvent(buildID string, files []string) Event {
	cssOnly := len(files) > 0
	for _, f := range files {
		if path.Ext(strings.TrimSuffix(f, ".map")) != ".css" {
			cssOnly = false
			break
		}
	}
	return Event{BuildID: buildID, Files: files, CSSOnly: cssOnly}
}

// No ReadTimeout or WriteTimeout: either one ends the events stream, which
// stays open for the life of a page.
func newHTTPServer(ctx context.Context, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}
