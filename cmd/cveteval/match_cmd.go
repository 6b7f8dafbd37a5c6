package main

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation/matcher"
)

type matchOutput struct {
	OriginID      int64                      `json:"origin_id"`
	DestinationID int64                      `json:"destination_id"`
	Matched       map[string]map[int64]int64 `json:"matched"`
	Unmatched     map[string][]int64         `json:"unmatched"`
	Orphaned      map[string][]int64         `json:"orphaned"`
	Changes       []matcher.Change           `json:"changes,omitempty"`
	Suggestions   []matcher.Suggestion       `json:"suggestions,omitempty"`
}

type historyPair struct {
	origin      string
	destination string
}

func (p *historyPair) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.origin, "origin", "", "Origin history id or idnumber (required)")
	cmd.Flags().StringVar(&p.destination, "destination", "", "Destination history id or idnumber (required)")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("destination")
}

func (s *session) resolvePair(p historyPair) (int64, int64, error) {
	origin, err := s.resolveHistory(p.origin)
	if err != nil {
		return 0, 0, err
	}
	dest, err := s.resolveHistory(p.destination)
	if err != nil {
		return 0, 0, err
	}
	if origin == dest {
		return 0, 0, withCode(exitUsage, errors.New("origin and destination must differ"))
	}
	return origin, dest, nil
}

func (s *session) match(origin, dest int64) (*matcher.DataModelMatcher, error) {
	m := matcher.NewDataModelMatcher(s.svc.Repos, origin, dest)
	if err := m.Run(s.ctx); err != nil {
		return nil, withCode(exitDB, err)
	}
	return m, nil
}

func newMatchCmd(c *cli) *cobra.Command {
	var (
		pair        historyPair
		suggestions int
		summary     bool
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Pair the model entities of two histories by natural key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			origin, dest, err := s.resolvePair(pair)
			if err != nil {
				return err
			}
			m, err := s.match(origin, dest)
			if err != nil {
				return err
			}
			if summary {
				rows := [][]string{{"entity", "matched", "unmatched", "orphaned"}}
				matched, unmatched, orphaned := m.MatchedEntities(), m.UnmatchedEntities(), m.OrphanedEntities()
				for _, mt := range matcher.Matchers() {
					name := mt.EntityName()
					rows = append(rows, []string{
						name,
						strconv.Itoa(len(matched[name])),
						strconv.Itoa(len(unmatched[name])),
						strconv.Itoa(len(orphaned[name])),
					})
				}
				return writeTable(cmd.OutOrStdout(), rows)
			}
			changes, err := m.Changes()
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), matchOutput{
				OriginID:      origin,
				DestinationID: dest,
				Matched:       m.MatchedEntities(),
				Unmatched:     m.UnmatchedEntities(),
				Orphaned:      m.OrphanedEntities(),
				Changes:       changes,
				Suggestions:   m.Suggest(suggestions),
			})
		},
	}
	pair.bind(cmd)
	cmd.Flags().IntVar(&suggestions, "suggestions", 3, "Fuzzy suggestions per orphan")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print counts per entity only")
	return cmd
}
