package importers

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/iota-uz/cveteval/pkg/dataimport"
)

type Kind string

const (
	KindEvaluationGrid Kind = "evaluation_grid"
	KindSituation      Kind = "situation"
	KindGrouping       Kind = "grouping"
	KindPlanning       Kind = "planning"
)

var ErrUnknownKind = errors.New("unknown import type")

type registration struct {
	build     func(Deps) dataimport.Importer
	delimiter rune
}

var registry = map[Kind]registration{
	KindEvaluationGrid: {build: func(d Deps) dataimport.Importer { return NewEvaluationGridImporter(d) }, delimiter: ','},
	KindSituation:      {build: func(d Deps) dataimport.Importer { return NewSituationImporter(d) }, delimiter: ';'},
	KindGrouping:       {build: func(d Deps) dataimport.Importer { return NewGroupingImporter(d) }, delimiter: ';'},
	KindPlanning:       {build: func(d Deps) dataimport.Importer { return NewPlanningImporter(d) }, delimiter: ';'},
}

// Kinds lists the import types in dependency order.
func Kinds() []Kind {
	return []Kind{KindEvaluationGrid, KindSituation, KindGrouping, KindPlanning}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := registry[k]; !ok {
		return "", errors.Wrap(ErrUnknownKind, fmt.Sprintf("%q (expected one of %s)", s, kindList()))
	}
	return k, nil
}

func kindList() string {
	names := make([]string, 0, len(registry))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func New(kind Kind, deps Deps) (dataimport.Importer, error) {
	reg, ok := registry[kind]
	if !ok {
		return nil, errors.Wrap(ErrUnknownKind, string(kind))
	}
	return reg.build(deps), nil
}

func DefaultDelimiter(kind Kind) rune {
	if reg, ok := registry[kind]; ok {
		return reg.delimiter
	}
	return ','
}

// Order sorts kinds in dependency order.
func Order(kinds []Kind) []Kind {
	order := Kinds()
	out := slices.Clone(kinds)
	slices.SortStableFunc(out, func(a, b Kind) int {
		return slices.Index(order, a) - slices.Index(order, b)
	})
	return out
}
