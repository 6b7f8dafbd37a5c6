// Package importers turns rows of the four model files into evaluation entities.
package importers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/eventbus"
)

type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (entities.User, bool, error)
}

// Cleaner deletes the rows of tables produced under a history.
type Cleaner interface {
	Cleanup(ctx context.Context, historyID int64, tables ...string) (int, error)
}

type Deps struct {
	Repos     *persistence.Repositories
	Users     UserFinder
	Cleaner   Cleaner
	Publisher eventbus.EventBus
	Location  *time.Location
	// DateLayouts are tried in order when reading planning dates.
	DateLayouts []string
}

func (d Deps) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

func (d Deps) layouts() []string {
	if len(d.DateLayouts) == 0 {
		return []string{"02/01/2006", time.DateOnly, time.RFC3339}
	}
	return d.DateLayouts
}

func (d Deps) publish(ctx context.Context, e eventbus.Event) {
	if d.Publisher != nil {
		d.Publisher.Publish(ctx, e)
	}
}

func (d Deps) cleanup(ctx context.Context, historyID int64, tables ...string) error {
	if d.Cleaner == nil {
		return nil
	}
	_, err := d.Cleaner.Cleanup(ctx, historyID, tables...)
	return err
}

// dynamicColumns returns the header columns matching pattern, in header order.
func dynamicColumns(columns []string, pattern *regexp.Regexp) []string {
	var out []string
	for _, c := range columns {
		if pattern.MatchString(strings.TrimSpace(c)) {
			out = append(out, c)
		}
	}
	return out
}
