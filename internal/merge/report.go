package merge

import (
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// Report describes what happened to one output file. Previous and Current are
// entry counts; mirrors use -1 because they are not parsed.
type Report struct {
	Path     string
	Category string // empty for mirrors
	Status   Status
	Previous int
	Current  int
}

func (r Report) log(loggers ldlog.Loggers) {
	switch {
	case r.Current < 0:
		loggers.Infof("%s: mirror %s", r.Path, r.Status)
	case r.Status == StatusCreated:
		loggers.Infof("%s: Created with %d rules", r.Path, r.Current)
	case r.Status == StatusUpdated:
		loggers.Infof("%s: Updated from %d to %d rules", r.Path, r.Previous, r.Current)
	default:
		loggers.Infof("%s: No changes detected", r.Path)
	}
}

// Summary is the outcome of one merge pass.
type Summary struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Reports  []Report
	Skipped  []SourceFailure
	Failed   []error
}

func (s Summary) finish() Summary {
	s.Duration = time.Since(s.Started)
	return s
}

// Changed returns the paths of outputs that were created or updated, in the
// order they were written.
func (s Summary) Changed() []string {
	var out []string
	for _, r := range s.Reports {
		if r.Status != StatusUnchanged {
			out = append(out, r.Path)
		}
	}
	return out
}
