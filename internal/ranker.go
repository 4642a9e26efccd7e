package internal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"factorpanel/internal/domain"
)

// DegenerateCrossSectionError means a date has fewer names than buckets.
// Callers skip the date rather than act on a misleading partial ranking.
type DegenerateCrossSectionError struct {
	Date       time.Time
	NumNames   int
	NumBuckets int
}

func (e DegenerateCrossSectionError) Error() string {
	return fmt.Sprintf("cross-section on %s has %d names - need at least %d for %d buckets", e.Date.Format(time.DateOnly), e.NumNames, e.NumBuckets, e.NumBuckets)
}

// CrossSectionalRanker assigns decile buckets within a single date's
// cross-section. Stateless - each date ranks independently.
type CrossSectionalRanker struct{}

func NewCrossSectionalRanker() CrossSectionalRanker {
	return CrossSectionalRanker{}
}

// Rank sorts the cross-section by (momentum asc, symbol asc) and splits
// it into numBuckets rank-quantile buckets of size floor(N/K) or
// ceil(N/K), remainder going to the lowest-ranked buckets first. Bucket
// 1 holds the lowest momentum names, bucket K the highest.
func (r CrossSectionalRanker) Rank(cs *domain.CrossSection, numBuckets int) (*domain.RankedCrossSection, error) {
	n := len(cs.Observations)
	if n < numBuckets {
		return nil, DegenerateCrossSectionError{Date: cs.Date, NumNames: n, NumBuckets: numBuckets}
	}

	ordered := make([]domain.SignalObservation, n)
	copy(ordered, cs.Observations)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].MomentumValue != ordered[j].MomentumValue {
			return ordered[i].MomentumValue < ordered[j].MomentumValue
		}
		// ties broken lexically so re-runs are bit-identical
		return ordered[i].Symbol < ordered[j].Symbol
	})

	ranked := domain.NewRankedCrossSection(cs.Date, numBuckets)
	base := n / numBuckets
	remainder := n % numBuckets

	rank := 0
	for bucket := 1; bucket <= numBuckets; bucket++ {
		size := base
		if bucket <= remainder {
			size++
		}
		for i := 0; i < size; i++ {
			ranked.Assign(ordered[rank].Symbol, bucket)
			rank++
		}
	}

	return ranked, nil
}

// RankPanel ranks every date in the panel, collecting degenerate dates
// as skipped rather than failing the run.
func (r CrossSectionalRanker) RankPanel(panel *domain.Panel, numBuckets int) (*domain.RankedPanel, error) {
	out := domain.NewRankedPanel()
	for _, date := range panel.Dates {
		ranked, err := r.Rank(panel.CrossSections[date], numBuckets)
		if err != nil {
			var degenerate DegenerateCrossSectionError
			if errors.As(err, &degenerate) {
				out.Skipped = append(out.Skipped, date)
				continue
			}
			return nil, fmt.Errorf("failed to rank cross-section on %s: %w", date.Format(time.DateOnly), err)
		}
		out.Add(ranked)
	}
	return out, nil
}
