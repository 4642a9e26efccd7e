package domain

import (
	"sort"
	"time"
)

// SignalObservation pairs a signal value computed from data at or before
// Date with the return realized strictly after Date. Keeping the two
// windows disjoint is the look-ahead boundary the whole pipeline hangs on.
type SignalObservation struct {
	Symbol        string
	Date          time.Time
	MomentumValue float64
	ForwardReturn float64

	// point-in-time control exposures, e.g. trailing volatility.
	// a control missing for a name simply excludes that name from
	// regressions that request it.
	Controls map[string]float64
}

// CrossSection is every instrument's observation on a single date.
type CrossSection struct {
	Date         time.Time
	Observations []SignalObservation
}

// Panel is the full date-ordered collection of cross-sections.
type Panel struct {
	Dates         []time.Time
	CrossSections map[time.Time]*CrossSection
}

func NewPanel() *Panel {
	return &Panel{
		CrossSections: map[time.Time]*CrossSection{},
	}
}

func (p *Panel) Add(obs SignalObservation) {
	cs, ok := p.CrossSections[obs.Date]
	if !ok {
		cs = &CrossSection{Date: obs.Date}
		p.CrossSections[obs.Date] = cs
		p.Dates = append(p.Dates, obs.Date)
		sort.Slice(p.Dates, func(i, j int) bool {
			return p.Dates[i].Before(p.Dates[j])
		})
	}
	cs.Observations = append(cs.Observations, obs)
}

// RankedCrossSection is a cross-section after decile assignment. Bucket
// labels run 1..NumBuckets, lowest signal first.
type RankedCrossSection struct {
	Date       time.Time
	NumBuckets int

	BucketBySymbol map[string]int
	// members per bucket, in rank order
	members [][]string
}

func NewRankedCrossSection(date time.Time, numBuckets int) *RankedCrossSection {
	return &RankedCrossSection{
		Date:           date,
		NumBuckets:     numBuckets,
		BucketBySymbol: map[string]int{},
		members:        make([][]string, numBuckets),
	}
}

func (r *RankedCrossSection) Assign(symbol string, bucket int) {
	r.BucketBySymbol[symbol] = bucket
	r.members[bucket-1] = append(r.members[bucket-1], symbol)
}

// Bucket returns the members of bucket k (1..NumBuckets) in rank order.
func (r RankedCrossSection) Bucket(k int) []string {
	return r.members[k-1]
}

// LowestBucket holds the lowest-momentum names, HighestBucket the
// highest. Which end goes long is policy, not structure.
func (r RankedCrossSection) LowestBucket() []string  { return r.Bucket(1) }
func (r RankedCrossSection) HighestBucket() []string { return r.Bucket(r.NumBuckets) }

// RankedPanel maps each rankable date to its decile assignment. Dates
// with degenerate cross-sections are simply absent.
type RankedPanel struct {
	Dates   []time.Time
	ByDate  map[time.Time]*RankedCrossSection
	Skipped []time.Time
}

func NewRankedPanel() *RankedPanel {
	return &RankedPanel{
		ByDate: map[time.Time]*RankedCrossSection{},
	}
}

func (p *RankedPanel) Add(rcs *RankedCrossSection) {
	p.ByDate[rcs.Date] = rcs
	p.Dates = append(p.Dates, rcs.Date)
}

func (p *RankedPanel) Get(date time.Time) (*RankedCrossSection, bool) {
	rcs, ok := p.ByDate[date]
	return rcs, ok
}
