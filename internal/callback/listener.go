package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

const (
	// shutdownTimeout is how long Close waits for in-flight requests.
	shutdownTimeout = 5 * time.Second

	// landingGrace is how long Wait lingers after a commit for the browser to
	// follow the redirect and load the completion page.
	landingGrace = 3 * time.Second
)

const completionPage = "<html><body><h1>Signed in</h1>" +
	"<p>You can close this window and return to the terminal.</p></body></html>"

const waitingPage = "<html><body><h1>Waiting for sign-in</h1>" +
	"<p>Finish signing in with your provider. This page is the return address.</p></body></html>"

// Listener is a localhost HTTP server acting as the return address for
// provider handshakes. Each request's URL is treated as the visible address
// and run through Consume.
type Listener struct {
	handler *Handler
	path    string
	port    int
	srv     *http.Server
	logger  *slog.Logger

	once      sync.Once
	mu        sync.Mutex
	kind      credential.Kind
	committed chan struct{}
	landed    chan struct{}
	landOnce  sync.Once
	serveErr  chan error
}

// Listen binds 127.0.0.1:port (0 picks a free port) and serves path.
func Listen(ctx context.Context, handler *Handler, port int, path string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("callback: binding localhost listener: %w", err)
	}

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("callback: listener address is not TCP")
	}

	l := &Listener{
		handler:   handler,
		path:      path,
		port:      tcpAddr.Port,
		logger:    logger,
		committed: make(chan struct{}),
		landed:    make(chan struct{}),
		serveErr:  make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, l.serveCallback)

	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	logger.Info("callback listener ready", slog.String("url", l.URL()))

	go func() {
		if serveErr := l.srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			l.serveErr <- fmt.Errorf("callback: server error: %w", serveErr)
		}
	}()

	return l, nil
}

// URL is the return address handed to the proxy.
func (l *Listener) URL() string {
	return "http://127.0.0.1:" + strconv.Itoa(l.port) + l.path
}

// Port reports the bound port.
func (l *Listener) Port() int {
	return l.port
}

// Wait blocks until a credential has been committed through the listener,
// then briefly for the completion page to load.
func (l *Listener) Wait(ctx context.Context) (credential.Kind, error) {
	select {
	case <-l.committed:
	case err := <-l.serveErr:
		return credential.KindNone, err
	case <-ctx.Done():
		return credential.KindNone, fmt.Errorf("callback: waiting for sign-in: %w", ctx.Err())
	}

	timer := time.NewTimer(landingGrace)
	defer timer.Stop()

	select {
	case <-l.landed:
	case <-timer.C:
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.kind, nil
}

// Close shuts the server down gracefully.
func (l *Listener) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := l.srv.Shutdown(shutdownCtx); err != nil {
		l.logger.Warn("callback listener shutdown error", slog.String("error", err.Error()))

		return fmt.Errorf("callback: shutting down listener: %w", err)
	}

	return nil
}

func (l *Listener) serveCallback(w http.ResponseWriter, r *http.Request) {
	loc := &Location{u: *r.URL}
	loc.u.Scheme = "http"
	loc.u.Host = r.Host

	q := loc.Query()
	hasParams := q.Has(ParamGitHubToken) || q.Has(ParamGoogleToken)

	if kind := l.handler.Consume(r.Context(), loc); kind != credential.KindNone {
		l.once.Do(func() {
			l.mu.Lock()
			l.kind = kind
			l.mu.Unlock()
			close(l.committed)
		})

		http.Redirect(w, r, loc.URL().RequestURI(), http.StatusSeeOther)

		return
	}

	if hasParams {
		http.Error(w, "Sign-in failed: the credential in this address could not be read", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	select {
	case <-l.committed:
		fmt.Fprint(w, completionPage)
		l.landOnce.Do(func() { close(l.landed) })
	default:
		fmt.Fprint(w, waitingPage)
	}
}
