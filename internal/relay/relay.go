// Package relay forwards every inbound request to one fixed upstream origin and
// copies the upstream response back unchanged.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/John-Robertt/clashrules/internal/model"
)

const DefaultMaxRedirects = 10

type Options struct {
	// Upstream is the origin (optionally with a base path) every request is
	// forwarded to.
	Upstream *url.URL

	// AllowCORS adds permissive CORS headers to every response.
	AllowCORS bool

	// ResponseHeaders are set on every response after the upstream headers
	// have been copied.
	ResponseHeaders http.Header

	Timeout      time.Duration // per request, 0 = bounded only by the client
	MaxRedirects int           // default 10
	MaxBodyBytes int64         // inbound body limit, 0 = unlimited

	Transport http.RoundTripper

	// ErrorHandler writes relay failures. The default writes a JSON
	// model.ErrorResponse. It is never called for requests the client
	// cancelled.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	Loggers ldlog.Loggers
}

// Error is a failure of the relay itself. Upstream error statuses are not
// errors: they are passed through.
type Error struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

var errTooManyRedirects = errors.New("too many redirects")

// Hop-by-hop headers belong to a single connection and are not forwarded in
// either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Handler struct {
	opt    Options
	base   string
	client *http.Client
}

func New(opt Options) (*Handler, error) {
	u := opt.Upstream
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("relay upstream must be an absolute http(s) URL")
	}
	if opt.MaxRedirects <= 0 {
		opt.MaxRedirects = DefaultMaxRedirects
	}
	if opt.Transport == nil {
		opt.Transport = http.DefaultTransport
	}
	if opt.ErrorHandler == nil {
		opt.ErrorHandler = writeJSONError
	}

	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	base.User = nil

	maxRedirects := opt.MaxRedirects
	return &Handler{
		opt:  opt,
		base: strings.TrimSuffix(base.String(), "/"),
		client: &http.Client{
			Transport: opt.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
	}, nil
}

// Target returns the upstream URL for an inbound request URL: the upstream
// base followed by the escaped inbound path and the raw query.
func (h *Handler) Target(in *url.URL) string {
	p := in.EscapedPath()
	if p == "" {
		p = "/"
	}
	target := h.base + p
	if in.RawQuery != "" {
		target += "?" + in.RawQuery
	}
	return target
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opt.AllowCORS && isPreflight(r) {
		setCORSHeaders(w.Header(), r)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	target := h.Target(r.URL)

	ctx := r.Context()
	if h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	resp, err := h.roundTrip(ctx, r, target)
	if err != nil {
		if r.Context().Err() != nil {
			h.opt.Loggers.Debugf("Client went away before %s %s was relayed: %s", r.Method, r.URL.Path, err)
			return
		}
		h.opt.Loggers.Warnf("Relay %s %s failed: %s", r.Method, r.URL.Path, err)
		h.opt.ErrorHandler(w, r, err)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	copyHeader(header, resp.Header)
	if h.opt.AllowCORS {
		setCORSHeaders(header, r)
	}
	for k, vv := range h.opt.ResponseHeaders {
		header[k] = append([]string(nil), vv...)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Status is already sent; all that is left is to stop.
		h.opt.Loggers.Debugf("Relay %s %s: copying upstream body: %s", r.Method, r.URL.Path, err)
	}
}

func (h *Handler) roundTrip(ctx context.Context, r *http.Request, target string) (*http.Response, error) {
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		// Buffered so the client can replay it on 307/308 redirects.
		src := r.Body
		if h.opt.MaxBodyBytes > 0 {
			src = io.NopCloser(io.LimitReader(r.Body, h.opt.MaxBodyBytes+1))
		}
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, h.fail(http.StatusBadRequest, "INVALID_REQUEST_BODY", "读取请求体失败", target, err)
		}
		if h.opt.MaxBodyBytes > 0 && int64(len(data)) > h.opt.MaxBodyBytes {
			return nil, h.fail(http.StatusRequestEntityTooLarge, "TOO_LARGE",
				fmt.Sprintf("请求体过大（>%d bytes）", h.opt.MaxBodyBytes), target, nil)
		}
		body = bytes.NewReader(data)
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, h.fail(http.StatusBadRequest, "INVALID_ARGUMENT", "无法构造上游请求", target, err)
	}
	copyHeader(out.Header, r.Header)
	if _, ok := r.Header["User-Agent"]; !ok {
		// Keep net/http from adding its own.
		out.Header.Set("User-Agent", "")
	}

	resp, err := h.client.Do(out)
	if err != nil {
		switch {
		case errors.Is(err, errTooManyRedirects):
			return nil, h.fail(http.StatusBadGateway, "TOO_MANY_REDIRECTS",
				fmt.Sprintf("上游重定向次数超过上限（>%d）", h.opt.MaxRedirects), target, err)
		case isTimeout(err):
			return nil, h.fail(http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "上游响应超时", target, err)
		default:
			return nil, h.fail(http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "无法连接上游", target, err)
		}
	}
	return resp, nil
}

func (h *Handler) fail(status int, code, msg, target string, cause error) *Error {
	return &Error{
		Status: status,
		AppError: model.AppError{
			Code:    code,
			Message: msg,
			Stage:   "relay",
			URL:     target,
		},
		Cause: cause,
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k], vv...)
	}
	for _, f := range src["Connection"] {
		for _, k := range strings.Split(f, ",") {
			if k = strings.TrimSpace(k); k != "" {
				dst.Del(k)
			}
		}
	}
	for _, k := range hopHeaders {
		dst.Del(k)
	}
}

// A browser preflight is answered locally when CORS is enabled; upstreams that
// know nothing about CORS would otherwise reject it.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func setCORSHeaders(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "false")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Access-Control-Max-Age", "300")
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
