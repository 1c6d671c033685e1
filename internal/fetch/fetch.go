package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/clashrules/internal/model"
)

type Kind int

const (
	// KindRuleSource is a remote rule list merged into a category.
	KindRuleSource Kind = iota
	// KindMirror is a file copied verbatim into the output directory.
	KindMirror
)

func (k Kind) stage() string {
	switch k {
	case KindRuleSource:
		return "fetch_source"
	case KindMirror:
		return "fetch_mirror"
	default:
		return "fetch"
	}
}

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindRuleSource:
		return 16 * 1024 * 1024
	case KindMirror:
		return 32 * 1024 * 1024
	default:
		return 1 * 1024 * 1024
	}
}

// Rule sources must be text; mirrors are copied as-is.
func (k Kind) requiresUTF8() bool { return k == KindRuleSource }

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
)

type Options struct {
	Timeout      time.Duration // default 10s
	MaxBytes     int64         // default per kind
	MaxRedirects int           // default 5

	// Transport overrides http.DefaultTransport (tests).
	Transport http.RoundTripper
}

func (o Options) withDefaults(kind Kind) Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = kind.defaultMaxBytes()
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	return o
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s (%s)", e.AppError.Code, e.AppError.Message, e.AppError.URL)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.AppError.Code, e.AppError.Message, e.AppError.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// IsRemote reports whether locator names an http(s) resource rather than a
// local file path.
func IsRemote(locator string) bool {
	u, err := url.Parse(locator)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Bytes performs a single GET of rawURL. There are no retries: a failure is
// reported to the caller, which decides whether to skip the resource.
func Bytes(ctx context.Context, kind Kind, rawURL string, opt Options) ([]byte, error) {
	stage := kind.stage()
	opt = opt.withDefaults(kind)

	fail := func(status int, code, msg string, cause error) *FetchError {
		return &FetchError{
			Status: status,
			AppError: model.AppError{
				Code:    code,
				Message: msg,
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: cause,
		}
	}

	if opt.MaxBytes <= 0 {
		return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "响应大小上限必须大于 0", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "仅允许 http/https URL",
			errors.Join(errInvalidURLOrScheme, err))
	}

	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: opt.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "请求 URL 不合法", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return nil, fail(http.StatusBadGateway, "FETCH_FAILED",
				fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", err)
		case isTimeout(err):
			return nil, fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		default:
			return nil, fail(http.StatusBadGateway, "FETCH_FAILED", "拉取远程资源失败", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fail(http.StatusBadGateway, "FETCH_FAILED",
			fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), nil)
	}

	// Read at most MaxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		}
		return nil, fail(http.StatusBadGateway, "FETCH_FAILED", "读取上游响应失败", err)
	}
	if int64(len(body)) > opt.MaxBytes {
		return nil, fail(http.StatusUnprocessableEntity, "TOO_LARGE",
			fmt.Sprintf("远程资源过大（>%d bytes）", opt.MaxBytes), nil)
	}
	if kind.requiresUTF8() && !utf8.Valid(body) {
		return nil, fail(http.StatusUnprocessableEntity, "FETCH_INVALID_UTF8", "远程资源不是合法 UTF-8 文本", nil)
	}
	return body, nil
}

func isTimeout(err error) bool {
	// Go may wrap errors (e.g. *url.Error).
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
