/*
NAME
  pool.go

DESCRIPTION
  pool.go is the scheduling brain of the engine: it decides which decoded
  input frames stay resident, which generations of output may proceed in
  parallel, when a new decoder should be spun up on a GOP, and when a
  stalled decoder should be abandoned in favor of a fresher one. None of
  this package touches a decoder or an encoder directly; it only tracks
  bookkeeping and answers "what next" questions for the pipeline that
  does.
*/

// Package pool implements the admission/eviction scheduler for the
// decoded-frame cache that sits between input decoders and the output
// pipeline. A "generation" is one output frame's worth of dependencies;
// the pool keeps a sliding window of generations active at once, bounded
// by config.DecoderView, and a bounded cache of decoded input frames,
// bounded by config.DecodePoolSize.
package pool

import (
	"container/heap"
	"math"
	"math/big"
	"sort"

	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/vferr"
)

// notUsed marks a frame that no pending generation needs.
const notUsed = math.MaxInt64

// IFrameRef names one decoded input frame: a source name plus its exact
// timestamp within that source.
type IFrameRef struct {
	Source string
	Pts    *big.Rat
}

// FrameKey is a canonical, comparable encoding of an IFrameRef usable as
// a Go map key (big.Rat is not itself comparable).
type FrameKey string

// Key returns the canonical map key for r.
func (r IFrameRef) Key() FrameKey {
	return FrameKey(r.Source + "@" + r.Pts.RatString())
}

func cmpRef(a, b IFrameRef) int {
	if a.Source != b.Source {
		if a.Source < b.Source {
			return -1
		}
		return 1
	}
	return a.Pts.Cmp(b.Pts)
}

// DecoderState tracks one active decoder: the source it is attached to
// and the ordered pts it still intends to decode.
type DecoderState struct {
	Source       string
	FutureFrames []*big.Rat
}

// FutureIFrameRefs returns the set of frames d still intends to produce.
func (d *DecoderState) FutureIFrameRefs() map[FrameKey]IFrameRef {
	out := make(map[FrameKey]IFrameRef, len(d.FutureFrames))
	for _, pts := range d.FutureFrames {
		r := IFrameRef{Source: d.Source, Pts: pts}
		out[r.Key()] = r
	}
	return out
}

type frameUses struct {
	ref  IFrameRef
	gens []int // ascending, the output generations that need this frame
}

// Pool is the generation scheduler and decoded-frame cache.
type Pool struct {
	doneGensRecent map[int]bool
	doneGensPast   int
	nextGen        int

	members map[FrameKey]memberEntry

	Decoders                  map[string]*DecoderState
	FinishedUnjoinedDecoders  map[string]bool
	TerminateDecoders         bool

	iframesPerOframe   []map[FrameKey]IFrameRef
	iframeRefsInOutIdx map[FrameKey]*frameUses

	sources map[string]*source.Profile
	cfg     config.Config
}

type memberEntry struct {
	ref   IFrameRef
	frame *av.Frame
}

// New builds a Pool for a rendered plan: iframesPerOframe[g] is the set
// of input frames that output generation g depends on. It admits as many
// leading generations as decoder_view and decode_pool_size allow.
func New(iframesPerOframe []map[FrameKey]IFrameRef, sources map[string]*source.Profile, cfg config.Config) (*Pool, error) {
	if cfg.DecodePoolSize == 0 {
		return nil, vferr.New(vferr.ConfigError, "decode_pool_size must be greater than 0")
	}

	reverse := map[FrameKey]*frameUses{}
	for gen, frames := range iframesPerOframe {
		for key, ref := range frames {
			fu, ok := reverse[key]
			if !ok {
				fu = &frameUses{ref: ref}
				reverse[key] = fu
			}
			fu.gens = append(fu.gens, gen)
		}
	}
	for _, fu := range reverse {
		sort.Ints(fu.gens)
	}

	p := &Pool{
		doneGensRecent:           map[int]bool{},
		members:                  map[FrameKey]memberEntry{},
		Decoders:                 map[string]*DecoderState{},
		FinishedUnjoinedDecoders: map[string]bool{},
		iframesPerOframe:         iframesPerOframe,
		iframeRefsInOutIdx:       reverse,
		sources:                  sources,
		cfg:                      cfg,
	}
	for p.planGen() {
	}
	return p, nil
}

func (p *Pool) nextNeededGen(frame IFrameRef) int {
	fu, ok := p.iframeRefsInOutIdx[frame.Key()]
	if !ok {
		return notUsed
	}
	for _, gen := range fu.gens {
		if gen >= p.doneGensPast && !p.doneGensRecent[gen] {
			return gen
		}
	}
	return notUsed
}

func (p *Pool) decoderNextNeededGen(decoderID string) int {
	d := p.Decoders[decoderID]
	next := notUsed
	for _, pts := range d.FutureFrames {
		g := p.nextNeededGen(IFrameRef{Source: d.Source, Pts: pts})
		if g < next {
			next = g
		}
	}
	return next
}

func (p *Pool) frameGOP(frame IFrameRef) int {
	src := p.sources[frame.Source]
	return src.GOPIndex(frame.Pts)
}

// NewDecoderGOP reports the (source, gop index) of the GOP that most
// urgently needs a fresh decoder, if any input frame is needed but
// neither resident nor already being produced by an existing decoder.
func (p *Pool) NewDecoderGOP() (sourceRef string, gopIdx int, ok bool) {
	if len(p.Decoders) >= p.cfg.Decoders {
		return "", 0, false
	}

	needSet := p.needSet()
	futureSet := p.futureSet()

	var basis []IFrameRef
	for key, ref := range needSet {
		if _, inMembers := p.members[key]; inMembers {
			continue
		}
		if _, inFuture := futureSet[key]; inFuture {
			continue
		}
		basis = append(basis, ref)
	}
	if len(basis) == 0 {
		return "", 0, false
	}
	sort.Slice(basis, func(i, j int) bool { return cmpRef(basis[i], basis[j]) < 0 })

	best := basis[0]
	bestNext := p.nextNeededGen(best)
	for _, cand := range basis[1:] {
		n := p.nextNeededGen(cand)
		if n < bestNext {
			best, bestNext = cand, n
		}
	}

	return best.Source, p.frameGOP(best), true
}

// evictionCandidate is a max-heap element ordered by needed_gen: the
// largest needed_gen (least urgently needed, or never needed) is evicted
// first.
type evictionCandidate struct {
	neededGen int
	ref       IFrameRef
}

type evictionHeap []evictionCandidate

func (h evictionHeap) Len() int            { return len(h) }
func (h evictionHeap) Less(i, j int) bool  { return h[i].neededGen > h[j].neededGen }
func (h evictionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *evictionHeap) Push(x interface{}) { *h = append(*h, x.(evictionCandidate)) }
func (h *evictionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// evictionSet picks `size` resident frames to evict, preferring frames
// with the furthest-off (or absent) need, and never picking a frame in
// nextNeedSet.
func (p *Pool) evictionSet(size int, nextNeedSet map[FrameKey]IFrameRef) []IFrameRef {
	h := &evictionHeap{}
	for key, m := range p.members {
		if _, keep := nextNeedSet[key]; keep {
			continue
		}
		heap.Push(h, evictionCandidate{neededGen: p.nextNeededGen(m.ref), ref: m.ref})
	}
	out := make([]IFrameRef, 0, size)
	for i := 0; i < size && h.Len() > 0; i++ {
		out = append(out, heap.Pop(h).(evictionCandidate).ref)
	}
	return out
}

// ShouldStall reports whether decoderID has no reachable path to
// producing any currently-needed, not-yet-resident frame.
func (p *Pool) ShouldStall(decoderID string) bool {
	d := p.Decoders[decoderID]
	needSet := p.needSet()
	decFuture := d.FutureIFrameRefs()

	for key := range needSet {
		if _, resident := p.members[key]; resident {
			continue
		}
		if _, inDecFuture := decFuture[key]; inDecFuture {
			return false
		}
	}
	return true
}

// Decoded admits a freshly decoded frame into the pool, evicting a
// resident frame if necessary and worthwhile. Producing a frame the pool
// has no room or need for is a silent no-op, matching a decoder racing
// ahead of the scheduler.
func (p *Pool) Decoded(decoderID string, frame IFrameRef, decoded *av.Frame) {
	if _, ok := p.members[frame.Key()]; ok {
		return
	}

	needSet := p.needSet()
	_, needed := needSet[frame.Key()]

	if needed || len(p.members) < p.cfg.DecodePoolSize {
		if len(p.members) == p.cfg.DecodePoolSize {
			for _, ev := range p.evictionSet(1, needSet) {
				delete(p.members, ev.Key())
			}
		}
		p.members[frame.Key()] = memberEntry{ref: frame, frame: decoded}
		return
	}

	fNextNeed := p.nextNeededGen(frame)
	if fNextNeed >= notUsed {
		return
	}

	var leastNeeded *memberEntry
	leastNeededGen := notUsed
	for key, m := range p.members {
		if _, inNeedSet := needSet[key]; inNeedSet {
			continue
		}
		g := p.nextNeededGen(m.ref)
		if leastNeeded == nil || g > leastNeededGen {
			mm := m
			leastNeeded = &mm
			leastNeededGen = g
		}
	}

	if leastNeeded != nil && fNextNeed < leastNeededGen {
		delete(p.members, leastNeeded.ref.Key())
		p.members[frame.Key()] = memberEntry{ref: frame, frame: decoded}
	}
}

// ShouldDecoderAbandon reports whether decoderID is stalled, a GOP switch
// would help sooner than decoderID can recover, and decoderID is (of all
// active decoders) the least urgently needed one — so it, not some other
// stalled decoder, should be the one torn down.
func (p *Pool) ShouldDecoderAbandon(decoderID string) bool {
	if len(p.Decoders) < p.cfg.Decoders || !p.ShouldStall(decoderID) {
		return false
	}

	decNext := p.decoderNextNeededGen(decoderID)

	futureSet := p.futureSet()
	foundSoonerBasis := false
	for key, ref := range p.needSet() {
		if _, resident := p.members[key]; resident {
			continue
		}
		if _, inFuture := futureSet[key]; inFuture {
			continue
		}
		if p.nextNeededGen(ref) < decNext {
			foundSoonerBasis = true
			break
		}
	}
	if !foundSoonerBasis {
		return false
	}

	for otherID := range p.Decoders {
		if otherID == decoderID {
			continue
		}
		if p.decoderNextNeededGen(otherID) > decNext {
			return false
		}
	}
	return true
}

func (p *Pool) futureSet() map[FrameKey]IFrameRef {
	out := map[FrameKey]IFrameRef{}
	for _, d := range p.Decoders {
		for key, ref := range d.FutureIFrameRefs() {
			out[key] = ref
		}
	}
	return out
}

// planGen admits one more output generation into the active window, if
// decoder_view and decode_pool_size (after evictions) allow it.
func (p *Pool) planGen() bool {
	if p.nextGen == len(p.iframesPerOframe) {
		return false
	}

	numActive := len(p.ActiveGens())
	if numActive >= p.cfg.DecoderView {
		return false
	}

	nextNeedSet := p.needSet()
	for key, ref := range p.iframesPerOframe[p.nextGen] {
		nextNeedSet[key] = ref
	}

	if len(nextNeedSet) > p.cfg.DecodePoolSize {
		return false
	}

	union := map[FrameKey]IFrameRef{}
	for key, ref := range nextNeedSet {
		union[key] = ref
	}
	for key, m := range p.members {
		union[key] = m.ref
	}

	if len(union) > p.cfg.DecodePoolSize {
		needed := len(union) - p.cfg.DecodePoolSize
		for _, ev := range p.evictionSet(needed, nextNeedSet) {
			delete(p.members, ev.Key())
		}
	}

	p.nextGen++
	return true
}

// ActiveGens returns the generations currently admitted but not yet
// finished, ascending.
func (p *Pool) ActiveGens() []int {
	var out []int
	for g := p.doneGensPast; g < p.nextGen; g++ {
		if !p.doneGensRecent[g] {
			out = append(out, g)
		}
	}
	return out
}

// FinishGen marks gen complete, advances the low-water mark past any now
// contiguous run of finished generations, and admits as many new
// generations as room allows.
func (p *Pool) FinishGen(gen int) {
	p.doneGensRecent[gen] = true
	for p.doneGensRecent[p.doneGensPast] {
		delete(p.doneGensRecent, p.doneGensPast)
		p.doneGensPast++
	}
	for p.planGen() {
	}
}

// IsGenReady reports whether every input frame gen depends on is
// resident.
func (p *Pool) IsGenReady(gen int) bool {
	for key := range p.iframesPerOframe[gen] {
		if _, ok := p.members[key]; !ok {
			return false
		}
	}
	return true
}

// GetReadyGenFrames returns gen's dependency frames, keyed by IFrameRef.
// Callers must confirm IsGenReady(gen) first.
func (p *Pool) GetReadyGenFrames(gen int) map[FrameKey]*av.Frame {
	out := make(map[FrameKey]*av.Frame, len(p.iframesPerOframe[gen]))
	for key := range p.iframesPerOframe[gen] {
		out[key] = p.members[key].frame
	}
	return out
}

func (p *Pool) needSet() map[FrameKey]IFrameRef {
	out := map[FrameKey]IFrameRef{}
	for _, g := range p.ActiveGens() {
		for key, ref := range p.iframesPerOframe[g] {
			out[key] = ref
		}
	}
	return out
}

// NeedSet exposes the current need set for diagnostics and tests.
func (p *Pool) NeedSet() map[FrameKey]IFrameRef { return p.needSet() }

// MembersLen reports the current resident frame count.
func (p *Pool) MembersLen() int { return len(p.members) }
