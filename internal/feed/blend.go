package feed

import "github.com/d60-Lab/skyframe/internal/model"

// Source tags the pool an image was taken from.
type Source int

const (
	SourcePrioritized Source = iota + 1
	SourceGlobal
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourcePrioritized:
		return "prioritized"
	case SourceGlobal:
		return "global"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// BlendParams are the page shape and fairness caps.
type BlendParams struct {
	PageSize          int
	PrioritizedTarget int
	MaxPerUploader    int // 0 = unlimited
	MaxConsecutive    int // 0 = unlimited

	// PrioritizedServed / GlobalServed hold ids the chain already returned
	// from each pool. Matching candidates are treated as taken.
	PrioritizedServed map[uint64]struct{}
	GlobalServed      map[uint64]struct{}
	// MaxCarry bounds, per pool, the served ids that sort after the newest
	// unserved candidate; 0 = unlimited. Once reached, a pool only offers
	// its newest unserved candidate.
	MaxCarry int
	// PrioritizedHeld / GlobalHeld count served ids the cursor keeps for a
	// pool without them being among its candidates. They use up MaxCarry.
	PrioritizedHeld int
	GlobalHeld      int
}

// Pick is one accepted image with its pool.
type Pick struct {
	Image  model.Image
	Source Source
}

// PoolResume describes where a pool's next query starts.
type PoolResume struct {
	// After is the oldest candidate such that it and every newer candidate
	// are served; zero when the newest candidate is still unserved.
	After Position
	// Served lists the served candidates older than After, in feed order.
	Served []uint64
	// Pending counts candidates that were not served.
	Pending int
}

// BlendResult is the assembled page plus the per pool resume state.
type BlendResult struct {
	Picks            []Pick
	Full             bool
	PrioritizedTaken int
	GlobalTaken      int
	Prioritized      PoolResume
	Global           PoolResume
}

type capState struct {
	perUploader  map[uint64]int
	lastUploader uint64
	consecutive  int
	maxPer       int
	maxRun       int
}

func (c *capState) allows(uploader uint64) bool {
	if c.maxPer > 0 && c.perUploader[uploader] >= c.maxPer {
		return false
	}
	if c.maxRun > 0 && c.consecutive > 0 && c.lastUploader == uploader && c.consecutive >= c.maxRun {
		return false
	}
	return true
}

func (c *capState) accept(uploader uint64) {
	c.perUploader[uploader]++
	if c.consecutive > 0 && c.lastUploader == uploader {
		c.consecutive++
		return
	}
	c.lastUploader = uploader
	c.consecutive = 1
}

type pool struct {
	items    []model.Image
	taken    []bool
	head     int // first untaken index
	ahead    int // taken items after head
	held     int
	maxCarry int
}

func newPool(items []model.Image, served map[uint64]struct{}, held, maxCarry int) *pool {
	p := &pool{items: items, taken: make([]bool, len(items)), held: held, maxCarry: maxCarry}
	for i, img := range items {
		if _, ok := served[img.ID]; ok {
			p.taken[i] = true
		}
	}
	for p.head < len(items) && p.taken[p.head] {
		p.head++
	}
	for i := p.head; i < len(items); i++ {
		if p.taken[i] {
			p.ahead++
		}
	}
	return p
}

func (p *pool) carryFull() bool {
	return p.maxCarry > 0 && p.ahead+p.held >= p.maxCarry
}

// next returns the index of the first untaken item that passes the caps, or
// -1. Items behind a blocked head are offered only while the carry has room.
func (p *pool) next(caps *capState) int {
	for i := p.head; i < len(p.items); i++ {
		if p.taken[i] {
			continue
		}
		if caps.allows(p.items[i].UserID) {
			return i
		}
		if p.carryFull() {
			return -1
		}
	}
	return -1
}

func (p *pool) take(i int) model.Image {
	p.taken[i] = true
	if i != p.head {
		p.ahead++
		return p.items[i]
	}
	for p.head < len(p.items) && p.taken[p.head] {
		if p.head != i {
			p.ahead--
		}
		p.head++
	}
	return p.items[i]
}

func (p *pool) resume() PoolResume {
	var r PoolResume
	if p.head > 0 {
		r.After = PositionOf(p.items[p.head-1])
	}
	for i := p.head; i < len(p.items); i++ {
		if p.taken[i] {
			r.Served = append(r.Served, p.items[i].ID)
		} else {
			r.Pending++
		}
	}
	return r
}

// Blend merges the two candidate lists into one page. Prioritized candidates
// are preferred until PrioritizedTarget of them are on the page; when the
// preferred pool has no item passing the caps the other pool fills in, so the
// ratio is a target rather than a guarantee.
func Blend(prioritized, global []model.Image, p BlendParams) BlendResult {
	pp := newPool(prioritized, p.PrioritizedServed, p.PrioritizedHeld, p.MaxCarry)
	gp := newPool(global, p.GlobalServed, p.GlobalHeld, p.MaxCarry)
	caps := &capState{perUploader: make(map[uint64]int), maxPer: p.MaxPerUploader, maxRun: p.MaxConsecutive}

	res := BlendResult{Picks: make([]Pick, 0, p.PageSize)}
	for len(res.Picks) < p.PageSize {
		first, second := pp, gp
		firstSrc, secondSrc := SourcePrioritized, SourceGlobal
		if res.PrioritizedTaken >= p.PrioritizedTarget {
			first, second = gp, pp
			firstSrc, secondSrc = SourceGlobal, SourcePrioritized
		}

		from, src := first, firstSrc
		idx := first.next(caps)
		if idx < 0 {
			from, src = second, secondSrc
			idx = second.next(caps)
		}
		if idx < 0 {
			break
		}

		img := from.take(idx)
		caps.accept(img.UserID)
		res.Picks = append(res.Picks, Pick{Image: img, Source: src})
		if src == SourcePrioritized {
			res.PrioritizedTaken++
		} else {
			res.GlobalTaken++
		}
	}

	res.Full = len(res.Picks) == p.PageSize
	res.Prioritized = pp.resume()
	res.Global = gp.resume()
	return res
}

// IDs returns the image ids of picks in page order.
func IDs(picks []Pick) []uint64 {
	ids := make([]uint64, len(picks))
	for i, pk := range picks {
		ids[i] = pk.Image.ID
	}
	return ids
}

func idSet(ids []uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
