package merge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
	"github.com/launchdarkly/go-test-helpers/v3/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/clashrules/internal/fetch"
	"github.com/John-Robertt/clashrules/internal/rules"
)

const (
	proxyProvider = "payload:\n  - DOMAIN-SUFFIX,google.com\n  - DOMAIN-SUFFIX,github.com\n  - DOMAIN-SUFFIX,example.org\n"
	liteProvider  = "payload:\n  - DOMAIN-SUFFIX,github.com\n  - DOMAIN-SUFFIX,telegram.org\n"
	customRules   = "payload:\n  # personal\n  - DOMAIN-SUFFIX,example.org\n  - DOMAIN,vps.example.net\n  - DOMAIN,vps.example.net\n"
)

func upstreamMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/Proxy.yaml", httphelpers.HandlerWithResponse(http.StatusOK, nil, []byte(proxyProvider)))
	mux.Handle("/ProxyLite.yaml", httphelpers.HandlerWithResponse(http.StatusOK, nil, []byte(liteProvider)))
	mux.Handle("/Proxy.list", httphelpers.HandlerWithResponse(http.StatusOK, nil, []byte("DOMAIN-SUFFIX,a.com,Proxy\r\n")))
	mux.Handle("/broken.yaml", httphelpers.HandlerWithStatus(http.StatusInternalServerError))
	return mux
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func outputEntries(t *testing.T, path string) []string {
	t.Helper()
	doc, err := rules.Parse(path, []byte(readFile(t, path)))
	require.NoError(t, err)
	return doc.Entries()
}

func TestRunner_MergesAndIsIdempotent(t *testing.T) {
	httphelpers.WithServer(upstreamMux(), func(server *httptest.Server) {
		dir := t.TempDir()
		custom := filepath.Join(dir, "custom", "proxy.yaml")
		writeFile(t, custom, customRules)
		out := filepath.Join(dir, "merged")

		runner := NewRunner([]Category{{
			Name:    "proxy",
			Custom:  custom,
			Sources: []string{server.URL + "/Proxy.yaml", server.URL + "/ProxyLite.yaml"},
			Output:  "proxy.yaml",
			Format:  rules.FormatYAML,
		}}, nil, Options{OutputDir: out, Loggers: ldlog.NewDisabledLoggers()})

		sum, err := runner.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, sum.Reports, 1)
		assert.Equal(t, StatusCreated, sum.Reports[0].Status)
		assert.Equal(t, 5, sum.Reports[0].Current)
		assert.NotEmpty(t, sum.RunID)

		path := filepath.Join(out, "proxy.yaml")
		assert.Equal(t, []string{
			"DOMAIN-SUFFIX,example.org",
			"DOMAIN,vps.example.net",
			"DOMAIN-SUFFIX,google.com",
			"DOMAIN-SUFFIX,github.com",
			"DOMAIN-SUFFIX,telegram.org",
		}, outputEntries(t, path))
		assert.Contains(t, readFile(t, path), "# personal")
		first := readFile(t, path)

		sum2, err := runner.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusUnchanged, sum2.Reports[0].Status)
		assert.Empty(t, sum2.Changed())
		assert.Equal(t, first, readFile(t, path))
		assert.NotEqual(t, sum.RunID, sum2.RunID)
	})
}

func TestRunner_SkipsFailingSource(t *testing.T) {
	httphelpers.WithServer(upstreamMux(), func(server *httptest.Server) {
		dir := t.TempDir()
		custom := filepath.Join(dir, "custom.list")
		writeFile(t, custom, "DOMAIN,mine.example\n")
		mockLog := ldlogtest.NewMockLog()

		runner := NewRunner([]Category{{
			Name:    "direct",
			Custom:  custom,
			Sources: []string{server.URL + "/broken.yaml", server.URL + "/Proxy.list"},
			Output:  "direct.list",
			Format:  rules.FormatText,
		}}, nil, Options{OutputDir: dir, Loggers: mockLog.Loggers})

		sum, err := runner.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, sum.Skipped, 1)
		assert.Equal(t, server.URL+"/broken.yaml", sum.Skipped[0].Locator)
		var fe *fetch.FetchError
		assert.True(t, errors.As(sum.Skipped[0].Err, &fe))
		mockLog.AssertMessageMatch(t, true, ldlog.Warn, "skipping source")

		assert.Equal(t, "DOMAIN,mine.example\nDOMAIN-SUFFIX,a.com,Proxy\n", readFile(t, filepath.Join(dir, "direct.list")))
	})
}

func TestRunner_AllSourcesFailKeepsCustom(t *testing.T) {
	httphelpers.WithServer(upstreamMux(), func(server *httptest.Server) {
		dir := t.TempDir()
		custom := filepath.Join(dir, "custom.list")
		writeFile(t, custom, "a\nb\na\n")

		runner := NewRunner([]Category{{
			Name:    "c",
			Custom:  custom,
			Sources: []string{server.URL + "/broken.yaml", server.URL + "/missing.yaml"},
			Output:  "c.list",
			Format:  rules.FormatText,
		}}, nil, Options{OutputDir: dir, Loggers: ldlog.NewDisabledLoggers()})

		sum, err := runner.Run(context.Background())
		require.NoError(t, err)
		assert.Len(t, sum.Skipped, 2)
		assert.Equal(t, "a\nb\n", readFile(t, filepath.Join(dir, "c.list")))
	})
}

func TestRunner_AbortOnSourceError(t *testing.T) {
	httphelpers.WithServer(upstreamMux(), func(server *httptest.Server) {
		dir := t.TempDir()

		runner := NewRunner([]Category{
			{
				Name:    "bad",
				Sources: []string{server.URL + "/Proxy.yaml", server.URL + "/broken.yaml"},
				Output:  "bad.yaml",
				Format:  rules.FormatYAML,
			},
			{
				Name:    "good",
				Sources: []string{server.URL + "/ProxyLite.yaml"},
				Output:  "good.yaml",
				Format:  rules.FormatYAML,
			},
		}, nil, Options{OutputDir: dir, AbortOnSourceError: true, Loggers: ldlog.NewDisabledLoggers()})

		sum, err := runner.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCategoriesFailed)
		require.Len(t, sum.Failed, 1)

		var ce *CategoryError
		require.True(t, errors.As(sum.Failed[0], &ce))
		assert.Equal(t, "bad", ce.Category)
		assert.Equal(t, "load_source", ce.Stage)

		_, statErr := os.Stat(filepath.Join(dir, "bad.yaml"))
		assert.True(t, os.IsNotExist(statErr))
		assert.Equal(t, []string{"DOMAIN-SUFFIX,github.com", "DOMAIN-SUFFIX,telegram.org"},
			outputEntries(t, filepath.Join(dir, "good.yaml")))
	})
}

func TestRunner_MissingCustomFailsCategory(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.list")
	writeFile(t, local, "x\ny\n")

	runner := NewRunner([]Category{
		{Name: "gone", Custom: filepath.Join(dir, "nope.yaml"), Output: "gone.yaml", Format: rules.FormatYAML},
		{Name: "local", Sources: []string{local}, Output: "local.list", Format: rules.FormatText},
	}, nil, Options{OutputDir: filepath.Join(dir, "out"), Loggers: ldlog.NewDisabledLoggers()})

	sum, err := runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrCategoriesFailed)
	require.Len(t, sum.Failed, 1)
	var ce *CategoryError
	require.True(t, errors.As(sum.Failed[0], &ce))
	assert.Equal(t, "read_custom", ce.Stage)
	assert.True(t, errors.Is(ce, os.ErrNotExist))

	assert.Equal(t, "x\ny\n", readFile(t, filepath.Join(dir, "out", "local.list")))
}

func TestRunner_UpdatedReportCounts(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "src.list")
	writeFile(t, local, "a\nb\n")
	mockLog := ldlogtest.NewMockLog()

	runner := NewRunner([]Category{{Name: "c", Sources: []string{local}, Output: "c.yaml", Format: rules.FormatYAML}},
		nil, Options{OutputDir: dir, Loggers: mockLog.Loggers})

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	writeFile(t, local, "a\nb\nc\n")
	sum, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Reports, 1)
	assert.Equal(t, StatusUpdated, sum.Reports[0].Status)
	assert.Equal(t, 2, sum.Reports[0].Previous)
	assert.Equal(t, 3, sum.Reports[0].Current)
	assert.Equal(t, []string{filepath.Join(dir, "c.yaml")}, sum.Changed())
	mockLog.AssertMessageMatch(t, true, ldlog.Info, "Updated from 2 to 3 rules")
}

func TestRunner_Mirrors(t *testing.T) {
	httphelpers.WithServer(upstreamMux(), func(server *httptest.Server) {
		dir := t.TempDir()
		runner := NewRunner(nil, []Mirror{
			{File: "Proxy.list", URL: server.URL + "/Proxy.list"},
			{File: "Broken.list", URL: server.URL + "/broken.yaml"},
		}, Options{OutputDir: dir, Loggers: ldlog.NewDisabledLoggers()})

		sum, err := runner.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "DOMAIN-SUFFIX,a.com,Proxy\r\n", readFile(t, filepath.Join(dir, "Proxy.list")))
		require.Len(t, sum.Skipped, 1)
		assert.Equal(t, server.URL+"/broken.yaml", sum.Skipped[0].Locator)
		_, statErr := os.Stat(filepath.Join(dir, "Broken.list"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestRunner_WriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "src.list")
	writeFile(t, local, "a\n")
	// The output directory path is occupied by a regular file.
	blocker := filepath.Join(dir, "merged")
	writeFile(t, blocker, "not a dir")

	runner := NewRunner([]Category{{Name: "c", Sources: []string{local}, Output: "c.list", Format: rules.FormatText}},
		nil, Options{OutputDir: blocker, Loggers: ldlog.NewDisabledLoggers()})

	_, err := runner.Run(context.Background())
	var we *WriteError
	require.True(t, errors.As(err, &we), "got %T: %v", err, err)
}

func TestRunner_WriteFailureLeavesPreviousOutputs(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "src.list")
	writeFile(t, local, "DOMAIN,new.com\n")
	out := filepath.Join(dir, "merged")
	writeFile(t, filepath.Join(out, "a.list"), "DOMAIN,old.com\n")
	// b's output path is occupied by a directory.
	require.NoError(t, os.MkdirAll(filepath.Join(out, "b.list"), 0o755))

	runner := NewRunner([]Category{
		{Name: "a", Sources: []string{local}, Output: "a.list", Format: rules.FormatText},
		{Name: "b", Sources: []string{local}, Output: "b.list", Format: rules.FormatText},
	}, nil, Options{OutputDir: out, Loggers: ldlog.NewDisabledLoggers()})

	sum, err := runner.Run(context.Background())
	var we *WriteError
	require.True(t, errors.As(err, &we), "got %T: %v", err, err)
	assert.Equal(t, filepath.Join(out, "b.list"), we.Path)
	assert.Empty(t, sum.Reports)
	assert.Empty(t, sum.Changed())
	assert.Equal(t, "DOMAIN,old.com\n", readFile(t, filepath.Join(out, "a.list")))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a.list", "b.list"}, names)
}

func TestRunner_OutputCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "src.list")
	writeFile(t, local, "a\n")
	out := filepath.Join(dir, "out")

	runner := NewRunner([]Category{{Name: "c", Sources: []string{local}, Output: "../../escaped.list", Format: rules.FormatText}},
		nil, Options{OutputDir: out, Loggers: ldlog.NewDisabledLoggers()})

	sum, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Reports, 1)
	assert.True(t, strings.HasPrefix(sum.Reports[0].Path, out+string(filepath.Separator)), sum.Reports[0].Path)
	_, statErr := os.Stat(filepath.Join(dir, "escaped.list"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_CancelledContextWritesNothing(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "src.list")
	writeFile(t, local, "a\n")
	out := filepath.Join(dir, "out")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner([]Category{{Name: "c", Sources: []string{local}, Output: "c.list", Format: rules.FormatText}},
		nil, Options{OutputDir: out, Loggers: ldlog.NewDisabledLoggers()})
	_, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_FetchTimeoutSkipsSource(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	httphelpers.WithServer(slow, func(server *httptest.Server) {
		dir := t.TempDir()
		runner := NewRunner([]Category{{Name: "c", Sources: []string{server.URL}, Output: "c.list", Format: rules.FormatText}},
			nil, Options{OutputDir: dir, Fetch: fetch.Options{Timeout: 50 * time.Millisecond}, Loggers: ldlog.NewDisabledLoggers()})

		sum, err := runner.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, sum.Skipped, 1)
		var fe *fetch.FetchError
		require.True(t, errors.As(sum.Skipped[0].Err, &fe))
		assert.Equal(t, "FETCH_TIMEOUT", fe.AppError.Code)
	})
}
