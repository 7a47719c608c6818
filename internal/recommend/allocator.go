package recommend

import (
	"sort"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// Phase is a step of the allocation state machine.
type Phase int

const (
	PhaseCollecting Phase = iota
	PhaseDonating
	PhaseOverflowFilling
	PhaseAssembling
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseDonating:
		return "donating"
	case PhaseOverflowFilling:
		return "overflow_filling"
	case PhaseAssembling:
		return "assembling"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Bucket holds the candidates placed for one keyword. The first Primary
// entries are the keyword's guaranteed share.
type Bucket struct {
	Keyword string
	Items   []models.Candidate
}

func (b *Bucket) has(key string) bool {
	for _, c := range b.Items {
		if c.Key() == key {
			return true
		}
	}
	return false
}

// Plan records one allocation run.
type Plan struct {
	Target  int
	Primary int
	Buffer  int

	Buckets  []*Bucket
	Donors   []models.Candidate // not pulled by any bucket
	Overflow []models.Candidate // not used to fill any bucket
	Result   []models.Candidate
	Trace    []Phase
}

// Allocate distributes candidates across keyword buckets and assembles at
// most target items in keyword order.
func Allocate(keywords []string, candidates []models.Candidate, target, primary, buffer int) *Plan {
	if buffer < primary {
		buffer = primary
	}
	p := &Plan{
		Target:  target,
		Primary: primary,
		Buffer:  buffer,
		Buckets: make([]*Bucket, len(keywords)),
	}
	for i, kw := range keywords {
		p.Buckets[i] = &Bucket{Keyword: kw}
	}

	for phase := PhaseCollecting; phase != PhaseDone; {
		p.Trace = append(p.Trace, phase)
		phase = p.step(phase, candidates)
	}
	p.Trace = append(p.Trace, PhaseDone)
	return p
}

func (p *Plan) step(phase Phase, candidates []models.Candidate) Phase {
	switch phase {
	case PhaseCollecting:
		p.collect(candidates)
		return PhaseDonating
	case PhaseDonating:
		for _, b := range p.Buckets {
			if len(b.Items) > p.Primary {
				p.Donors = append(p.Donors, b.Items[p.Primary:]...)
			}
		}
		p.Donors = p.fill(p.Donors)
		return PhaseOverflowFilling
	case PhaseOverflowFilling:
		p.Overflow = p.fill(p.Overflow)
		return PhaseAssembling
	case PhaseAssembling:
		p.assemble()
		return PhaseDone
	default:
		return PhaseDone
	}
}

// collect places each candidate in the first matching bucket with room.
// Candidates are ordered by score; equal scores keep arrival order.
func (p *Plan) collect(candidates []models.Candidate) {
	ordered := append([]models.Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	seen := make(map[string]struct{}, len(ordered))
	for _, c := range ordered {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		matched, placed := false, false
		for _, b := range p.Buckets {
			if !textnorm.ContainsKeyword(c.Title, c.Tags, b.Keyword) {
				continue
			}
			matched = true
			if len(b.Items) < p.Buffer {
				b.Items = append(b.Items, c)
				placed = true
				break
			}
		}
		if matched && !placed {
			p.Overflow = append(p.Overflow, c)
		}
	}
}

// fill tops up buckets below primary from pool, one item at a time, and
// returns what is left of the pool.
func (p *Plan) fill(pool []models.Candidate) []models.Candidate {
	for _, b := range p.Buckets {
		for len(b.Items) < p.Primary && len(pool) > 0 {
			i := 0
			for ; i < len(pool); i++ {
				if !b.has(pool[i].Key()) {
					break
				}
			}
			if i == len(pool) {
				break
			}
			b.Items = append(b.Items, pool[i])
			pool = append(pool[:i:i], pool[i+1:]...)
		}
	}
	return pool
}

func (p *Plan) assemble() {
	placed := make(map[string]struct{}, p.Target)
	result := make([]models.Candidate, 0, p.Target)
	add := func(c models.Candidate) bool {
		if len(result) >= p.Target {
			return false
		}
		key := c.Key()
		if _, ok := placed[key]; ok {
			return false
		}
		placed[key] = struct{}{}
		result = append(result, c)
		return true
	}

	for _, b := range p.Buckets {
		taken := 0
		for _, c := range b.Items {
			if taken == p.Primary || len(result) >= p.Target {
				break
			}
			if add(c) {
				taken++
			}
		}
	}
	for _, c := range p.Donors {
		add(c)
	}
	for _, c := range p.Overflow {
		add(c)
	}
	p.Result = result
}
