package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/pborman/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/clashrules/internal/fetch"
	"github.com/John-Robertt/clashrules/internal/rules"
)

const defaultConcurrency = 4

// Category is one merge unit: a custom rule file plus its sources, written to
// Output inside the output directory.
type Category struct {
	Name    string
	Custom  string   // local path; empty means no custom rules
	Sources []string // http(s) URLs or local paths, merged in this order
	Output  string   // file name relative to Options.OutputDir
	Format  rules.Format
}

// Mirror is a remote file copied byte-for-byte into the output directory.
type Mirror struct {
	File string
	URL  string
}

type Options struct {
	OutputDir   string
	Concurrency int // categories processed in parallel; default 4

	// AbortOnSourceError drops a category when any of its sources fails.
	// By default the failing source is skipped and the rest are merged.
	AbortOnSourceError bool

	Fetch   fetch.Options
	Loader  Loader // default SourceLoader{Fetch: Fetch}
	Loggers ldlog.Loggers
}

// SourceFailure records a source that was skipped.
type SourceFailure struct {
	Category string
	Locator  string
	Err      error
}

// Result is the merged rule set of one category.
type Result struct {
	Category Category
	Document rules.Document
	Skipped  []SourceFailure

	// Unrecognized counts entries rules.Inspect rejected. They are still
	// written unchanged.
	Unrecognized int
}

type Runner struct {
	categories []Category
	mirrors    []Mirror
	opt        Options
	loader     Loader
}

func NewRunner(categories []Category, mirrors []Mirror, opt Options) *Runner {
	if opt.Concurrency <= 0 {
		opt.Concurrency = defaultConcurrency
	}
	loader := opt.Loader
	if loader == nil {
		loader = SourceLoader{Fetch: opt.Fetch}
	}
	return &Runner{
		categories: categories,
		mirrors:    mirrors,
		opt:        opt,
		loader:     loader,
	}
}

type mirrorResult struct {
	mirror Mirror
	data   []byte
	err    error
}

// Run executes one merge pass. Every category is computed and every changed
// output is staged in a temporary file before any target is replaced, so a
// write failure aborts the pass with a *WriteError and leaves the previous
// outputs in place. Categories that failed are reported in Summary.Failed and
// the returned error wraps ErrCategoriesFailed, but the other outputs are
// still written.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.New(), Started: time.Now()}
	loggers := r.opt.Loggers
	loggers.Infof("Merge pass %s: %d categories, %d mirrors", sum.RunID, len(r.categories), len(r.mirrors))

	results := make([]*Result, len(r.categories))
	catErrs := make([]error, len(r.categories))
	mirrors := make([]*mirrorResult, len(r.mirrors))

	var g errgroup.Group
	g.SetLimit(r.opt.Concurrency)
	for i, cat := range r.categories {
		g.Go(func() error {
			res, err := r.runCategory(ctx, cat)
			results[i], catErrs[i] = res, err
			return nil
		})
	}
	for i, m := range r.mirrors {
		g.Go(func() error {
			data, err := fetch.Bytes(ctx, fetch.KindMirror, m.URL, r.opt.Fetch)
			if err != nil {
				loggers.Errorf("Error downloading %s from %s: %s", m.File, m.URL, err)
			}
			mirrors[i] = &mirrorResult{mirror: m, data: data, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return sum.finish(), err
	}

	type pending struct {
		w   *stagedWrite
		rep Report
	}
	var staged []pending
	abort := func(err error) (Summary, error) {
		for _, p := range staged {
			p.w.discard()
		}
		return sum.finish(), err
	}

	for i, res := range results {
		if catErrs[i] != nil {
			loggers.Errorf("Error processing category %s: %s", r.categories[i].Name, catErrs[i])
			sum.Failed = append(sum.Failed, catErrs[i])
			continue
		}
		sum.Skipped = append(sum.Skipped, res.Skipped...)

		data, err := rules.Encode(res.Document, res.Category.Format)
		if err != nil {
			return abort(fmt.Errorf("encode category %q: %w", res.Category.Name, err))
		}
		w, err := stageWrite(r.opt.OutputDir, res.Category.Output, data)
		if err != nil {
			return abort(err)
		}
		staged = append(staged, pending{w: w, rep: Report{
			Path:     w.path,
			Category: res.Category.Name,
			Status:   w.status,
			Previous: countEntries(w.path, w.previous),
			Current:  res.Document.EntryCount(),
		}})
	}

	for _, mr := range mirrors {
		if mr.err != nil {
			sum.Skipped = append(sum.Skipped, SourceFailure{Locator: mr.mirror.URL, Err: mr.err})
			continue
		}
		w, err := stageWrite(r.opt.OutputDir, mr.mirror.File, mr.data)
		if err != nil {
			return abort(err)
		}
		staged = append(staged, pending{w: w, rep: Report{Path: w.path, Status: w.status, Previous: -1, Current: -1}})
	}

	for i, p := range staged {
		if err := p.w.commit(); err != nil {
			staged = staged[i+1:]
			return abort(err)
		}
		p.rep.log(loggers)
		sum.Reports = append(sum.Reports, p.rep)
	}

	sum = sum.finish()
	loggers.Infof("Merge pass %s completed in %s: %d changed, %d skipped sources, %d failed categories",
		sum.RunID, sum.Duration.Round(10*time.Millisecond), len(sum.Changed()), len(sum.Skipped), len(sum.Failed))

	if len(sum.Failed) > 0 {
		return sum, fmt.Errorf("%w: %w", ErrCategoriesFailed, errors.Join(sum.Failed...))
	}
	return sum, nil
}

func (r *Runner) runCategory(ctx context.Context, cat Category) (*Result, error) {
	loggers := r.opt.Loggers
	res := &Result{Category: cat}

	custom := rules.Document{Format: cat.Format}
	if cat.Custom != "" {
		data, err := os.ReadFile(cat.Custom)
		if err != nil {
			return nil, &CategoryError{Category: cat.Name, Stage: "read_custom", Locator: cat.Custom, Cause: err}
		}
		custom, err = rules.Parse(cat.Custom, data)
		if err != nil {
			return nil, &CategoryError{Category: cat.Name, Stage: "parse_custom", Locator: cat.Custom, Cause: err}
		}
	}

	remotes := make([]rules.Document, 0, len(cat.Sources))
	for _, src := range cat.Sources {
		doc, stage, err := r.loadSource(ctx, src)
		if err != nil {
			if r.opt.AbortOnSourceError {
				return nil, &CategoryError{Category: cat.Name, Stage: stage, Locator: src, Cause: err}
			}
			loggers.Warnf("Category %s: skipping source %s: %s", cat.Name, src, err)
			res.Skipped = append(res.Skipped, SourceFailure{Category: cat.Name, Locator: src, Err: err})
			continue
		}
		loggers.Debugf("Category %s: processed %s: found %d rules", cat.Name, src, doc.EntryCount())
		remotes = append(remotes, doc)
	}

	res.Document = Merge(custom, remotes...)
	res.Document.Format = cat.Format

	var firstBad string
	for _, e := range res.Document.Entries() {
		if _, err := rules.Inspect(e); err != nil {
			if res.Unrecognized == 0 {
				firstBad = e
			}
			res.Unrecognized++
		}
	}
	if res.Unrecognized > 0 {
		loggers.Debugf("Category %s: %d unrecognized rules kept as-is (first: %q)", cat.Name, res.Unrecognized, firstBad)
	}
	return res, nil
}

func (r *Runner) loadSource(ctx context.Context, locator string) (rules.Document, string, error) {
	data, err := r.loader.Load(ctx, locator)
	if err != nil {
		return rules.Document{}, "load_source", err
	}
	doc, err := rules.Parse(locator, data)
	if err != nil {
		return rules.Document{}, "parse_source", err
	}
	return doc, "", nil
}

func countEntries(path string, previous []byte) int {
	if previous == nil {
		return 0
	}
	doc, err := rules.Parse(path, previous)
	if err != nil {
		return 0
	}
	return doc.EntryCount()
}
