package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/modules/evaluation/matcher"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/metrics"
)

type Step string

const (
	StepChooseHistories Step = "choose_histories"
	StepViewDiff        Step = "view_diff"
	StepConfirmMatches  Step = "confirm_matches"
	StepMigrate         Step = "migrate"
	StepDone            Step = "done"
)

type State struct {
	ID            string                     `json:"id"`
	UserID        string                     `json:"user_id"`
	Step          Step                       `json:"step"`
	OriginID      int64                      `json:"origin_id,omitempty"`
	DestinationID int64                      `json:"destination_id,omitempty"`
	Matched       map[string]map[int64]int64 `json:"matched,omitempty"`
	Unmatched     map[string][]int64         `json:"unmatched,omitempty"`
	Orphaned      map[string][]int64         `json:"orphaned,omitempty"`
	Changes       []matcher.Change           `json:"changes,omitempty"`
	Suggestions   []matcher.Suggestion       `json:"suggestions,omitempty"`
	Mapping       Mapping                    `json:"mapping,omitempty"`
	// Adjustments records the operator edits made to the proposed mapping.
	Adjustments jsondiff.Patch `json:"adjustments,omitempty"`
	Report      *Report        `json:"report,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Input struct {
	OriginID      int64 `json:"origin_id,omitempty"`
	DestinationID int64 `json:"destination_id,omitempty"`
	// Patch is an RFC 6902 document applied to the mapping at confirm_matches.
	Patch   json.RawMessage `json:"patch,omitempty"`
	Confirm bool            `json:"confirm,omitempty"`
}

type HistoryReader interface {
	Get(ctx context.Context, id int64) (entities.History, error)
}

type transition func(w *Wizard, ctx context.Context, s State, in Input) (State, error)

var transitions = map[Step]transition{
	StepChooseHistories: (*Wizard).chooseHistories,
	StepViewDiff:        (*Wizard).viewDiff,
	StepConfirmMatches:  (*Wizard).confirmMatches,
	StepMigrate:         (*Wizard).migrate,
}

// Wizard drives a user-data migration one step per call. State lives in a
// WizardStore between calls.
type Wizard struct {
	repos       *persistence.Repositories
	histories   HistoryReader
	migrator    *Migrator
	store       WizardStore
	suggestions int
	now         func() time.Time
}

func NewWizard(repos *persistence.Repositories, histories HistoryReader, migrator *Migrator, store WizardStore) *Wizard {
	return &Wizard{
		repos:       repos,
		histories:   histories,
		migrator:    migrator,
		store:       store,
		suggestions: 3,
		now:         time.Now,
	}
}

func (w *Wizard) Start(ctx context.Context, userID string) (State, error) {
	s := State{ID: uuid.NewString(), UserID: userID, Step: StepChooseHistories, UpdatedAt: w.now()}
	if err := w.store.Save(ctx, s); err != nil {
		return State{}, err
	}
	metrics.ObserveWizardStep(string(s.Step))
	return s, nil
}

func (w *Wizard) Get(ctx context.Context, id string) (State, error) {
	s, err := w.store.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return State{}, services.NewServiceError(services.CodeWizardNotFound, fmt.Sprintf("wizard %s not found", id), err)
	}
	return s, err
}

// Advance loads the session, applies one transition and saves the result.
func (w *Wizard) Advance(ctx context.Context, id string, in Input) (State, error) {
	s, err := w.Get(ctx, id)
	if err != nil {
		return State{}, err
	}
	next, err := w.Next(ctx, s, in)
	if err != nil {
		return State{}, err
	}
	if err := w.store.Save(ctx, next); err != nil {
		return State{}, err
	}
	return next, nil
}

func (w *Wizard) Cancel(ctx context.Context, id string) error {
	return w.store.Delete(ctx, id)
}

// Next computes the state that follows s given in. It does not persist anything
// except at the migrate step.
func (w *Wizard) Next(ctx context.Context, s State, in Input) (State, error) {
	t, ok := transitions[s.Step]
	if !ok {
		return State{}, services.NewServiceError(services.CodeWizardInvalidStep,
			fmt.Sprintf("no transition from step %q", s.Step), nil)
	}
	next, err := t(w, ctx, s, in)
	if err != nil {
		return State{}, err
	}
	next.UpdatedAt = w.now()
	if next.Step != s.Step {
		metrics.ObserveWizardStep(string(next.Step))
		composables.UseLogger(ctx).WithField("wizard", s.ID).WithField("step", next.Step).Debug("wizard step")
	}
	return next, nil
}

func (w *Wizard) chooseHistories(ctx context.Context, s State, in Input) (State, error) {
	if in.OriginID <= 0 || in.DestinationID <= 0 || in.OriginID == in.DestinationID {
		return State{}, services.NewServiceError(services.CodeInvalidInput,
			"origin and destination must be two different histories", nil)
	}
	for _, id := range []int64{in.OriginID, in.DestinationID} {
		if _, err := w.histories.Get(ctx, id); err != nil {
			return State{}, err
		}
	}
	m := matcher.NewDataModelMatcher(w.repos, in.OriginID, in.DestinationID)
	if err := m.Run(ctx); err != nil {
		return State{}, errors.Wrap(err, "match generations")
	}
	changes, err := m.Changes()
	if err != nil {
		return State{}, err
	}
	s.OriginID, s.DestinationID = in.OriginID, in.DestinationID
	s.Matched = m.MatchedEntities()
	s.Unmatched = m.UnmatchedEntities()
	s.Orphaned = m.OrphanedEntities()
	s.Changes = changes
	s.Suggestions = m.Suggest(w.suggestions)
	s.Step = StepViewDiff
	return s, nil
}

func (w *Wizard) viewDiff(_ context.Context, s State, _ Input) (State, error) {
	s.Mapping = MappingFromMatches(s.Matched, s.Orphaned)
	s.Step = StepConfirmMatches
	return s, nil
}

// confirmMatches applies the operator patch, if any, and moves on once confirmed.
func (w *Wizard) confirmMatches(_ context.Context, s State, in Input) (State, error) {
	if len(in.Patch) > 0 {
		before, err := json.Marshal(s.Mapping)
		if err != nil {
			return State{}, err
		}
		patch, err := jsonpatch.DecodePatch(in.Patch)
		if err != nil {
			return State{}, services.NewServiceError(services.CodeInvalidInput, "invalid mapping patch", err)
		}
		after, err := patch.Apply(before)
		if err != nil {
			return State{}, services.NewServiceError(services.CodeInvalidInput, "mapping patch does not apply", err)
		}
		var mapping Mapping
		if err := json.Unmarshal(after, &mapping); err != nil {
			return State{}, services.NewServiceError(services.CodeInvalidInput, "invalid mapping", err)
		}
		if err := s.checkMapping(mapping); err != nil {
			return State{}, err
		}
		edits, err := jsondiff.CompareJSON(before, after)
		if err != nil {
			return State{}, err
		}
		s.Mapping = mapping
		s.Adjustments = append(s.Adjustments, edits...)
	}
	if in.Confirm {
		s.Step = StepMigrate
	}
	return s, nil
}

// checkMapping only accepts new destinations taken from the destination generation.
func (s State) checkMapping(m Mapping) error {
	invalid := func(format string, args ...any) error {
		return services.NewServiceError(services.CodeInvalidInput, fmt.Sprintf(format, args...), nil)
	}
	for entity, pairs := range m {
		before, ok := s.Mapping[entity]
		if !ok {
			return invalid("unknown entity %q", entity)
		}
		allowed := map[int64]bool{0: true}
		for dest := range s.Matched[entity] {
			allowed[dest] = true
		}
		for _, dest := range s.Unmatched[entity] {
			allowed[dest] = true
		}
		for origin, dest := range pairs {
			if _, ok := before[origin]; !ok {
				return invalid("%s %d is not part of the origin history", entity, origin)
			}
			if !allowed[dest] {
				return invalid("%s %d is not part of the destination history", entity, dest)
			}
		}
	}
	for entity := range s.Mapping {
		if _, ok := m[entity]; !ok {
			return invalid("entity %q cannot be removed from the mapping", entity)
		}
	}
	return nil
}

func (w *Wizard) migrate(ctx context.Context, s State, _ Input) (State, error) {
	report, err := w.migrator.Migrate(ctx, s.OriginID, s.DestinationID, s.Mapping)
	if err != nil {
		return State{}, err
	}
	s.Report = report
	s.Step = StepDone
	return s, nil
}

// Steps lists the wizard steps in order.
func Steps() []Step {
	return []Step{StepChooseHistories, StepViewDiff, StepConfirmMatches, StepMigrate, StepDone}
}
