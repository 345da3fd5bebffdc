/*
NAME
  pipeline.go

DESCRIPTION
  pipeline.go drives the decoder, filter-worker, and encoder threads
  that actually render a ProcessSpan, coordinated by one pool mutex and
  condition variable plus bounded channels, per the engine's
  concurrency model.
*/

package dve

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/filter"
	"github.com/ixlab/vidformer/pool"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/vferr"
)

// controlLoopInterval is the control loop's poll period when nothing is
// immediately actionable.
const controlLoopInterval = 250 * time.Microsecond

// guardedPool layers the single mutex+condition-variable required by
// the concurrency model on top of the otherwise single-threaded
// pool.Pool.
type guardedPool struct {
	mu   sync.Mutex
	cond *sync.Cond
	pool *pool.Pool
}

func newGuardedPool(p *pool.Pool) *guardedPool {
	gp := &guardedPool{pool: p}
	gp.cond = sync.NewCond(&gp.mu)
	return gp
}

type filterTask struct {
	gen  int
	deps map[pool.FrameKey]*av.Frame
}

type filterResult struct {
	gen   int
	frame filter.Frame
	err   error
}

// encodeBuffer holds filter output awaiting its turn at the encoder,
// keyed by generation. It plays the role of the min-heap on gen
// described in the design: since the encoder only ever wants the
// smallest not-yet-emitted generation, a map keyed by gen plus a
// monotonic cursor is equivalent to popping a min-heap.
type encodeBuffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	frames    map[int]filter.Frame
	next      int
	terminate bool
	maxSize   int
}

func newEncodeBuffer() *encodeBuffer {
	b := &encodeBuffer{frames: map[int]filter.Frame{}}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *encodeBuffer) put(gen int, f filter.Frame) {
	b.mu.Lock()
	b.frames[gen] = f
	if len(b.frames) > b.maxSize {
		b.maxSize = len(b.frames)
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *encodeBuffer) signalTerminate() {
	b.mu.Lock()
	b.terminate = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// nextReady blocks until generation b.next is available (returning it and
// ok=true) or termination is signaled with nothing left to give
// (ok=false).
func (b *encodeBuffer) nextReady() (filter.Frame, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if f, ok := b.frames[b.next]; ok {
			delete(b.frames, b.next)
			gen := b.next
			b.next++
			return f, gen, true
		}
		if b.terminate {
			return filter.Frame{}, 0, false
		}
		b.cond.Wait()
	}
}

type runState struct {
	ctx   *Context
	gp    *guardedPool
	span  *ProcessSpan
	cfg   config.Config
	stats Stats
	mu    sync.Mutex // guards stats and firstErr

	firstErr error

	decoderIDSeq int64
}

func (rs *runState) recordErr(err error) {
	if err == nil {
		return
	}
	rs.mu.Lock()
	if rs.firstErr == nil {
		rs.firstErr = err
	}
	rs.mu.Unlock()
}

func (rs *runState) getErr() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.firstErr
}

// runPipeline spins up the encoder, filter workers, and control loop,
// and runs decoders on demand until every generation is written or an
// error is observed.
func runPipeline(ctx *Context, p *pool.Pool, span *ProcessSpan, cfg config.Config, outputPath string, tbN, tbD int64) (*Stats, error) {
	gp := newGuardedPool(p)
	rs := &runState{ctx: ctx, gp: gp, span: span, cfg: cfg}

	filterChan := make(chan *filterTask, cfg.Filterers*2)
	resultChan := make(chan filterResult, cfg.Filterers*2)
	encBuf := newEncodeBuffer()

	var filterWG sync.WaitGroup
	for i := 0; i < cfg.Filterers; i++ {
		filterWG.Add(1)
		go runFilterWorker(rs, filterChan, resultChan, &filterWG)
	}

	var encWG sync.WaitGroup
	encWG.Add(1)
	var encErr error
	go func() {
		defer encWG.Done()
		encErr = runEncoder(ctx, span, cfg, outputPath, tbN, tbD, encBuf, &rs.stats)
	}()

	var decWG sync.WaitGroup

	dispatched := make([]bool, len(span.Frames))
	framesPostFiltering := 0

	for {
		gp.mu.Lock()
		for {
			src, gopIdx, ok := gp.pool.NewDecoderGOP()
			if !ok {
				break
			}
			profile := ctx.Sources[src]
			id := fmt.Sprintf("d%d", atomic.AddInt64(&rs.decoderIDSeq, 1))
			gp.pool.Decoders[id] = &pool.DecoderState{Source: src, FutureFrames: profile.GOPFrames(gopIdx)}
			rs.stats.DecodersCreated++
			if n := len(gp.pool.Decoders); n > rs.stats.MaxDecoderCount {
				rs.stats.MaxDecoderCount = n
			}
			decWG.Add(1)
			go runDecoder(ctx, gp, profile, id, &decWG, rs)
		}
		for id := range gp.pool.FinishedUnjoinedDecoders {
			delete(gp.pool.FinishedUnjoinedDecoders, id)
		}

		for _, gen := range gp.pool.ActiveGens() {
			if dispatched[gen] || !gp.pool.IsGenReady(gen) {
				continue
			}
			dispatched[gen] = true
			deps := gp.pool.GetReadyGenFrames(gen)
			gp.mu.Unlock()
			filterChan <- &filterTask{gen: gen, deps: deps}
			gp.mu.Lock()
		}
		gp.mu.Unlock()

	drain:
		for {
			select {
			case res := <-resultChan:
				if res.err != nil {
					rs.recordErr(res.err)
				} else {
					encBuf.put(res.gen, res.frame)
				}
				gp.mu.Lock()
				gp.pool.FinishGen(res.gen)
				gp.cond.Broadcast()
				gp.mu.Unlock()
				framesPostFiltering++
			default:
				break drain
			}
		}

		if framesPostFiltering == len(span.Frames) || rs.getErr() != nil {
			break
		}
		time.Sleep(controlLoopInterval)
	}

	gp.mu.Lock()
	gp.pool.TerminateDecoders = true
	gp.cond.Broadcast()
	gp.mu.Unlock()
	decWG.Wait()

	for i := 0; i < cfg.Filterers; i++ {
		filterChan <- nil
	}
	filterWG.Wait()

	encBuf.signalTerminate()
	encWG.Wait()
	rs.recordErr(encErr)

	rs.stats.MaxEncodeBufferSize = encBuf.maxSize

	if err := rs.getErr(); err != nil {
		return &rs.stats, err
	}
	return &rs.stats, nil
}

// runEncoder pulls frames from encBuf strictly in ascending generation
// order, encodes them at pts = ts[gen] - OutputTSOffset scaled to the
// encoder's time base, and muxes the resulting packets in emission
// order.
func runEncoder(ctx *Context, span *ProcessSpan, cfg config.Config, outputPath string, tbN, tbD int64, encBuf *encodeBuffer, stats *Stats) error {
	if len(span.Frames) == 0 {
		return nil
	}

	enc := ctx.NewEncoder()
	ec := cfg.EncoderOrDefault()
	opts := av.EncoderOpts{
		CodecName: ec.CodecName,
		Width:     cfg.OutputWidth,
		Height:    cfg.OutputHeight,
		PixFmt:    cfg.OutputPixFmt,
		TimeBaseN: int(tbN),
		TimeBaseD: int(tbD),
		Opts:      ec.Opts,
	}
	if err := enc.Open(opts); err != nil {
		return vferr.Wrap(vferr.AVError, err, "open encoder %q", ec.CodecName)
	}
	defer enc.Close()

	mux := ctx.NewMuxer()
	meta := av.StreamMeta{
		Codec: ec.CodecName, PixFmt: cfg.OutputPixFmt,
		Width: cfg.OutputWidth, Height: cfg.OutputHeight,
		TimeBaseN: int(tbN), TimeBaseD: int(tbD),
	}
	if err := mux.Open(outputPath, cfg.Format, meta); err != nil {
		return vferr.Wrap(vferr.AVError, err, "open muxer for %q", outputPath)
	}
	defer mux.Close()

	tb := big.NewRat(tbN, tbD)
	for {
		frame, gen, ok := encBuf.nextReady()
		if !ok {
			break
		}
		avFrame, err := filterFrameToAVFrame(frame, cfg.OutputPixFmt)
		frame.Close()
		if err != nil {
			return err
		}

		ptsRat := new(big.Rat).Sub(span.TS[gen], span.OutputTSOffset)
		scaled := new(big.Rat).Quo(ptsRat, tb)
		if scaled.Denom().Cmp(big.NewInt(1)) != 0 {
			return vferr.New(vferr.Unknown, "generation %d pts %s is not an exact multiple of the output time base %s", gen, ptsRat.RatString(), tb.RatString())
		}
		avFrame.Pts = new(big.Rat).SetInt(scaled.Num())

		pkts, err := enc.EncodeFrame(avFrame.Pts, avFrame)
		if err != nil {
			return vferr.Wrap(vferr.AVError, err, "encode generation %d", gen)
		}
		for _, pkt := range pkts {
			if err := mux.WritePacket(pkt); err != nil {
				return vferr.Wrap(vferr.AVError, err, "mux packet for generation %d", gen)
			}
		}
		stats.FramesWritten++

		if gen == len(span.Frames)-1 {
			break
		}
	}

	pkts, err := enc.Flush()
	if err != nil {
		return vferr.Wrap(vferr.AVError, err, "flush encoder")
	}
	for _, pkt := range pkts {
		if err := mux.WritePacket(pkt); err != nil {
			return vferr.Wrap(vferr.AVError, err, "mux flushed packet")
		}
	}
	return nil
}

func runFilterWorker(rs *runState, in <-chan *filterTask, out chan<- filterResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range in {
		if task == nil {
			return
		}
		frame, err := evalFrameExpr(rs.ctx, rs.span.Frames[task.gen], task.deps)
		out <- filterResult{gen: task.gen, frame: frame, err: err}
	}
}

func removeFutureFrame(d *pool.DecoderState, pts *big.Rat) {
	for i, f := range d.FutureFrames {
		if f.Cmp(pts) == 0 {
			d.FutureFrames = append(d.FutureFrames[:i], d.FutureFrames[i+1:]...)
			return
		}
	}
}

// runDecoder seeks profile's assigned GOP and decodes forward,
// consulting gp under lock after every frame to admit or drop it, and
// stalling or abandoning per the pool's verdict.
func runDecoder(ctx *Context, gp *guardedPool, profile *source.Profile, decoderID string, wg *sync.WaitGroup, rs *runState) {
	defer wg.Done()

	gp.mu.Lock()
	d := gp.pool.Decoders[decoderID]
	if len(d.FutureFrames) == 0 {
		gp.mu.Unlock()
		rs.finishDecoder(gp, decoderID)
		return
	}
	keyPts := d.FutureFrames[0]
	gp.mu.Unlock()

	dec := ctx.NewDecoder()
	if err := dec.SeekAndOpen(profile.Path, profile.StreamIdx, keyPts); err != nil {
		rs.recordErr(vferr.Wrap(vferr.AVError, err, "decoder %s: seek %q to %s", decoderID, profile.Path, keyPts.RatString()))
		rs.finishDecoder(gp, decoderID)
		return
	}
	defer dec.Close()

	for {
		f, err := dec.NextFrame()
		if av.IsEndOfStream(err) {
			break
		}
		if err != nil {
			rs.recordErr(vferr.Wrap(vferr.AVError, err, "decoder %s: decode %q", decoderID, profile.Path))
			break
		}

		gp.mu.Lock()
		if gp.pool.TerminateDecoders {
			gp.mu.Unlock()
			break
		}
		ref := pool.IFrameRef{Source: profile.Name, Pts: f.Pts}
		frameCopy := f
		gp.pool.Decoded(decoderID, ref, &frameCopy)
		if st := gp.pool.Decoders[decoderID]; st != nil {
			removeFutureFrame(st, f.Pts)
		}
		gp.cond.Broadcast()
		abandon := gp.pool.ShouldDecoderAbandon(decoderID)
		stall := gp.pool.ShouldStall(decoderID)
		gp.mu.Unlock()

		rs.mu.Lock()
		rs.stats.FramesDecoded++
		rs.mu.Unlock()

		if abandon {
			break
		}
		if stall {
			gp.mu.Lock()
			for gp.pool.ShouldStall(decoderID) && !gp.pool.TerminateDecoders && !gp.pool.ShouldDecoderAbandon(decoderID) {
				gp.cond.Wait()
			}
			giveUp := gp.pool.TerminateDecoders || gp.pool.ShouldDecoderAbandon(decoderID)
			gp.mu.Unlock()
			if giveUp {
				break
			}
		}
	}

	rs.finishDecoder(gp, decoderID)
}

// finishDecoder retires decoderID from the pool's active set and
// records it as joinable.
func (rs *runState) finishDecoder(gp *guardedPool, decoderID string) {
	gp.mu.Lock()
	delete(gp.pool.Decoders, decoderID)
	gp.pool.FinishedUnjoinedDecoders[decoderID] = true
	gp.cond.Broadcast()
	gp.mu.Unlock()
}
