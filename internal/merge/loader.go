package merge

import (
	"context"
	"fmt"
	"os"

	"github.com/John-Robertt/clashrules/internal/fetch"
)

// Loader returns the raw content behind a source locator.
type Loader interface {
	Load(ctx context.Context, locator string) ([]byte, error)
}

// SourceLoader fetches http(s) locators with a single bounded GET and reads
// anything else from the local filesystem.
type SourceLoader struct {
	Fetch fetch.Options
}

func (l SourceLoader) Load(ctx context.Context, locator string) ([]byte, error) {
	if fetch.IsRemote(locator) {
		return fetch.Bytes(ctx, fetch.KindRuleSource, locator, l.Fetch)
	}
	data, err := os.ReadFile(locator)
	if err != nil {
		return nil, fmt.Errorf("read local source: %w", err)
	}
	return data, nil
}
