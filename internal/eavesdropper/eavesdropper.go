// Package eavesdropper runs a local HTTP proxy that lets handlers inspect,
// rewrite or drop the web traffic of the game client, typically to read the
// session ticket or swap out client variables before the game socket opens.
package eavesdropper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/events"
)

var ErrAlreadyRunning = errors.New("eavesdropper already running")

const noCache = "no-cache, no-store"

// cancelledRequest marks a ProxyCtx whose request a handler dropped.
type cancelledRequest struct{}

// RequestEvent is handed to request handlers before the request is sent
// upstream. Payload may be replaced; Cancel drops the request.
type RequestEvent struct {
	Request *http.Request
	Payload []byte
	Cancel  bool
}

// ResponseEvent is handed to response handlers before the response reaches
// the client. ShouldTerminate stops the eavesdropper once the response has
// been delivered.
type ResponseEvent struct {
	Request         *http.Request
	Response        *http.Response
	Payload         []byte
	Cancel          bool
	ShouldTerminate bool
}

type (
	RequestHandler  func(e *RequestEvent)
	ResponseHandler func(e *ResponseEvent)
)

// Options configures the listener.
type Options struct {
	ListenHost   string
	Port         int
	DisableCache bool
}

// Eavesdropper is an intercepting HTTP proxy built on goproxy.
type Eavesdropper struct {
	opts     Options
	eventBus *events.EventBus
	toggler  ProxyToggler
	logger   zerolog.Logger

	handlersMu sync.RWMutex
	onRequest  []RequestHandler
	onResponse []ResponseHandler

	mu     sync.Mutex
	server *http.Server
	port   int
}

// New creates a stopped eavesdropper. A nil toggler logs instead of
// touching the system proxy settings.
func New(opts Options, eventBus *events.EventBus, toggler ProxyToggler) *Eavesdropper {
	logger := log.With().Str("component", "eavesdropper").Logger()
	if toggler == nil {
		toggler = NewLogToggler(logger)
	}
	return &Eavesdropper{
		opts:     opts,
		eventBus: eventBus,
		toggler:  toggler,
		logger:   logger,
	}
}

// OnRequest registers a request handler.
func (e *Eavesdropper) OnRequest(h RequestHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.onRequest = append(e.onRequest, h)
}

// OnResponse registers a response handler.
func (e *Eavesdropper) OnResponse(h ResponseHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.onResponse = append(e.onResponse, h)
}

// Port returns the listening port, or 0 when stopped.
func (e *Eavesdropper) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// IsRunning reports whether the proxy is serving.
func (e *Eavesdropper) IsRunning() bool {
	return e.Port() != 0
}

// Start begins serving and points the system proxy at the listener.
func (e *Eavesdropper) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(e.opts.ListenHost, strconv.Itoa(e.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	// The system proxy points at us; never route upstream traffic back here.
	proxy.Tr = &http.Transport{Proxy: nil}
	e.installHandlers(proxy)

	e.port = ln.Addr().(*net.TCPAddr).Port
	e.server = &http.Server{
		Handler:           proxy,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Msg("proxy server error")
		}
	}(e.server)

	if err := e.toggler.EnableProxy(e.port); err != nil {
		e.logger.Warn().Err(err).Int("port", e.port).Msg("failed to enable system proxy")
	}

	e.logger.Info().Str("addr", ln.Addr().String()).Msg("eavesdropper started")
	return nil
}

// Stop waits for in-flight exchanges, closes the listener and restores the
// system proxy settings. Stopping a stopped eavesdropper is a no-op.
func (e *Eavesdropper) Stop() error {
	e.mu.Lock()
	srv := e.server
	e.server = nil
	e.port = 0
	e.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := e.toggler.DisableProxy(); err != nil {
		errs = append(errs, fmt.Errorf("disable proxy: %w", err))
	}

	e.logger.Info().Msg("eavesdropper stopped")
	return errors.Join(errs...)
}

func (e *Eavesdropper) installHandlers(proxy *goproxy.ProxyHttpServer) {
	proxy.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		payload, err := drain(req.Body)
		if err != nil {
			e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("failed to read request body")
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, "eavesdropper: unreadable request")
		}

		ev := &RequestEvent{Request: req, Payload: payload}
		e.dispatchRequest(ev)
		e.publish(events.EventRequestIntercepted, req, 0, ev.Cancel)

		if ev.Cancel {
			ctx.UserData = cancelledRequest{}
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, "eavesdropper: request cancelled")
		}

		req.TransferEncoding = nil
		setBody(&req.Body, &req.ContentLength, req.Header, ev.Payload)
		if e.opts.DisableCache {
			req.Header.Set("Cache-Control", noCache)
		}
		return req, nil
	})

	proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if resp == nil {
			if ctx.Error != nil {
				e.logger.Debug().Err(ctx.Error).Msg("upstream error")
			}
			return nil
		}
		if _, ok := ctx.UserData.(cancelledRequest); ok {
			return resp
		}

		payload, err := drain(resp.Body)
		if err != nil {
			e.logger.Warn().Err(err).Str("url", ctx.Req.URL.String()).Msg("failed to read response body")
			return resp
		}

		ev := &ResponseEvent{Request: ctx.Req, Response: resp, Payload: payload}
		e.dispatchResponse(ev)
		e.publish(events.EventResponseIntercepted, ctx.Req, resp.StatusCode, ev.Cancel)

		if ev.ShouldTerminate {
			go func() {
				if err := e.Stop(); err != nil {
					e.logger.Warn().Err(err).Msg("stop after terminate request failed")
				}
			}()
		}
		if ev.Cancel {
			return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "eavesdropper: response cancelled")
		}

		resp.TransferEncoding = nil
		setBody(&resp.Body, &resp.ContentLength, resp.Header, ev.Payload)
		if e.opts.DisableCache {
			resp.Header.Set("Cache-Control", noCache)
		}
		return resp
	})
}

func (e *Eavesdropper) dispatchRequest(ev *RequestEvent) {
	e.handlersMu.RLock()
	handlers := append([]RequestHandler(nil), e.onRequest...)
	e.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer e.recoverHandler("request")
			h(ev)
		}()
	}
}

func (e *Eavesdropper) dispatchResponse(ev *ResponseEvent) {
	e.handlersMu.RLock()
	handlers := append([]ResponseHandler(nil), e.onResponse...)
	e.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer e.recoverHandler("response")
			h(ev)
		}()
	}
}

func (e *Eavesdropper) recoverHandler(kind string) {
	if r := recover(); r != nil {
		e.logger.Error().Str("handler", kind).Interface("panic", r).Msg("handler panicked")
	}
}

func (e *Eavesdropper) publish(t events.EventType, req *http.Request, status int, cancelled bool) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Emit(context.Background(), events.Event{
		Type:   t,
		Source: "eavesdropper",
		Payload: events.InterceptedPayload{
			Method:    req.Method,
			URL:       req.URL.String(),
			Status:    status,
			Cancelled: cancelled,
		},
	})
}

func drain(body io.ReadCloser) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	defer body.Close()
	return io.ReadAll(body)
}

func setBody(body *io.ReadCloser, length *int64, header http.Header, payload []byte) {
	*length = int64(len(payload))
	if len(payload) == 0 {
		*body = http.NoBody
	} else {
		*body = io.NopCloser(bytes.NewReader(payload))
	}
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(payload)))
}
