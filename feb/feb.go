/*
NAME
  feb.go

DESCRIPTION
  feb.go implements the Frame Expression Block: a compact binary layout
  for many FrameExpr values sharing dedup tables, enabling O(1) random
  access to any one of them without parsing its neighbors.
*/

// Package feb implements the FEB wire format: a dedup-tabled, tagged
// 64-bit-slot encoding of sir.FrameExpr trees, suitable for persistence
// or transfer with random access to any root entry.
package feb

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/ixlab/vidformer/sir"
	"github.com/ixlab/vidformer/vferr"
)

const (
	tagInlineInt32   = 0x00
	tagInlineBool    = 0x01
	tagInlineFloat32 = 0x02
	tagEmptyList     = 0x03
	tagInt16List1    = 0x04
	tagInt16List2    = 0x05
	tagInt16List3    = 0x06
	tagLiteralRef    = 0x40
	tagFunc          = 0x41
	tagListHeader    = 0x42
	tagSourceILoc    = 0x43
	tagSourceFrac    = 0x44
	tagIndirect      = 0x45
	tagKwargKey      = 0x46
)

// payloadMask keeps the low 56 bits; the tag occupies the upper byte.
const payloadMask = 0x00FFFFFFFFFFFFFF

func pack(tag byte, payload uint64) uint64 {
	return uint64(tag)<<56 | (payload & payloadMask)
}

func tagOf(slot uint64) byte      { return byte(slot >> 56) }
func payloadOf(slot uint64) uint64 { return slot & payloadMask }

// Frac is a (numerator, denominator) pair as stored in Block.SourceFracs.
type Frac struct {
	Num, Den int64
}

// Block is the on-the-wire FEB body: dedup tables plus the tagged slot
// array and the list of root frame expression indices.
type Block struct {
	Functions   []string
	Literals    []sir.DataExpr
	Sources     []string
	KwargKeys   []string
	SourceFracs []Frac
	Exprs       []uint64
	FrameExprs  []int32
}

// jsonBlock is Block's FEB JSON envelope: field names exactly as
// §4.3, with exprs and frame_exprs carried as i64 arrays and literals
// carried as tagged data expressions.
type jsonBlock struct {
	Functions   []string        `json:"functions"`
	Literals    []taggedLiteral `json:"literals"`
	Sources     []string        `json:"sources"`
	KwargKeys   []string        `json:"kwarg_keys"`
	SourceFracs [][2]int64      `json:"source_fracs"`
	Exprs       []int64         `json:"exprs"`
	FrameExprs  []int64         `json:"frame_exprs"`
}

type taggedLiteral struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func encodeLiteral(d sir.DataExpr) (taggedLiteral, error) {
	switch d.Kind {
	case sir.KindBool:
		v, err := json.Marshal(d.Bool)
		return taggedLiteral{Type: "bool", Value: v}, err
	case sir.KindInt:
		v, err := json.Marshal(d.Int)
		return taggedLiteral{Type: "int", Value: v}, err
	case sir.KindFloat:
		v, err := json.Marshal(d.Float)
		return taggedLiteral{Type: "float", Value: v}, err
	case sir.KindString:
		v, err := json.Marshal(d.Str)
		return taggedLiteral{Type: "string", Value: v}, err
	case sir.KindBytes:
		v, err := json.Marshal(d.Bytes)
		return taggedLiteral{Type: "bytes", Value: v}, err
	case sir.KindList:
		items := make([]taggedLiteral, len(d.List))
		for i, e := range d.List {
			tl, err := encodeLiteral(e)
			if err != nil {
				return taggedLiteral{}, err
			}
			items[i] = tl
		}
		v, err := json.Marshal(items)
		return taggedLiteral{Type: "list", Value: v}, err
	default:
		return taggedLiteral{}, fmt.Errorf("vidformer: unknown literal kind %d", d.Kind)
	}
}

func decodeLiteral(t taggedLiteral) (sir.DataExpr, error) {
	switch t.Type {
	case "bool":
		var v bool
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Bool(v), nil
	case "int":
		var v int64
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Int(v), nil
	case "float":
		var v float64
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Float(v), nil
	case "string":
		var v string
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.String(v), nil
	case "bytes":
		var v []byte
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return sir.DataExpr{}, err
		}
		return sir.Bytes(v), nil
	case "list":
		var tls []taggedLiteral
		if err := json.Unmarshal(t.Value, &tls); err != nil {
			return sir.DataExpr{}, err
		}
		items := make([]sir.DataExpr, len(tls))
		for i, tl := range tls {
			d, err := decodeLiteral(tl)
			if err != nil {
				return sir.DataExpr{}, err
			}
			items[i] = d
		}
		return sir.List(items...), nil
	default:
		return sir.DataExpr{}, fmt.Errorf("vidformer: unknown literal type %q", t.Type)
	}
}

// MarshalJSON encodes b per the FEB JSON envelope (§4.3/§6).
func (b Block) MarshalJSON() ([]byte, error) {
	jb := jsonBlock{
		Functions: b.Functions,
		Sources:   b.Sources,
		KwargKeys: b.KwargKeys,
	}
	for _, lit := range b.Literals {
		tl, err := encodeLiteral(lit)
		if err != nil {
			return nil, err
		}
		jb.Literals = append(jb.Literals, tl)
	}
	for _, f := range b.SourceFracs {
		jb.SourceFracs = append(jb.SourceFracs, [2]int64{f.Num, f.Den})
	}
	for _, e := range b.Exprs {
		jb.Exprs = append(jb.Exprs, int64(e))
	}
	for _, fe := range b.FrameExprs {
		jb.FrameExprs = append(jb.FrameExprs, int64(fe))
	}
	return json.Marshal(jb)
}

// UnmarshalJSON decodes b from the FEB JSON envelope (§4.3/§6).
func (b *Block) UnmarshalJSON(raw []byte) error {
	var jb jsonBlock
	if err := json.Unmarshal(raw, &jb); err != nil {
		return fmt.Errorf("vidformer: decode FEB block: %w", err)
	}
	b.Functions = jb.Functions
	b.Sources = jb.Sources
	b.KwargKeys = jb.KwargKeys
	b.Literals = make([]sir.DataExpr, len(jb.Literals))
	for i, tl := range jb.Literals {
		d, err := decodeLiteral(tl)
		if err != nil {
			return fmt.Errorf("vidformer: decode FEB literal %d: %w", i, err)
		}
		b.Literals[i] = d
	}
	b.SourceFracs = make([]Frac, len(jb.SourceFracs))
	for i, f := range jb.SourceFracs {
		b.SourceFracs[i] = Frac{Num: f[0], Den: f[1]}
	}
	b.Exprs = make([]uint64, len(jb.Exprs))
	for i, e := range jb.Exprs {
		b.Exprs[i] = uint64(e)
	}
	b.FrameExprs = make([]int32, len(jb.FrameExprs))
	for i, fe := range jb.FrameExprs {
		b.FrameExprs[i] = int32(fe)
	}
	return nil
}

// Encoder builds a Block incrementally, interning repeated strings,
// literals, sources, and kwarg keys.
type Encoder struct {
	b            Block
	functionIdx  map[string]int
	sourceIdx    map[string]int
	kwargKeyIdx  map[string]int
	literalIdx   map[string]int // keyed on a canonical string form; see literalKey
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{
		functionIdx: map[string]int{},
		sourceIdx:   map[string]int{},
		kwargKeyIdx: map[string]int{},
		literalIdx:  map[string]int{},
	}
}

func (e *Encoder) intern(table *[]string, idx map[string]int, s string) int {
	if i, ok := idx[s]; ok {
		return i
	}
	i := len(*table)
	*table = append(*table, s)
	idx[s] = i
	return i
}

func literalKey(d sir.DataExpr) string {
	switch d.Kind {
	case sir.KindBytes:
		return fmt.Sprintf("%d\x00%s", d.Kind, string(d.Bytes))
	case sir.KindInt:
		return fmt.Sprintf("%d\x00%d", d.Kind, d.Int)
	default:
		return fmt.Sprintf("%d\x00%s", d.Kind, d.String())
	}
}

func (e *Encoder) internLiteral(d sir.DataExpr) int {
	k := literalKey(d)
	if i, ok := e.literalIdx[k]; ok {
		return i
	}
	i := len(e.b.Literals)
	e.b.Literals = append(e.b.Literals, d)
	e.literalIdx[k] = i
	return i
}

func (e *Encoder) internFrac(t *big.Rat) int {
	n, d := t.Num().Int64(), t.Denom().Int64()
	for i, f := range e.b.SourceFracs {
		if f.Num == n && f.Den == d {
			return i
		}
	}
	i := len(e.b.SourceFracs)
	e.b.SourceFracs = append(e.b.SourceFracs, Frac{Num: n, Den: d})
	return i
}

// AddFrameExpr encodes fe as a new root entry and returns its position in
// Block.FrameExprs.
func (e *Encoder) AddFrameExpr(fe sir.FrameExpr) int {
	idx := e.placeFrame(fe)
	root := len(e.b.FrameExprs)
	e.b.FrameExprs = append(e.b.FrameExprs, int32(idx))
	return root
}

// Block returns the Block built so far.
func (e *Encoder) Block() Block { return e.b }

// reserve appends a placeholder slot and returns its index.
func (e *Encoder) reserve() int {
	i := len(e.b.Exprs)
	e.b.Exprs = append(e.b.Exprs, 0)
	return i
}

// placeFrame writes fe at a freshly reserved/allocated position and
// returns that position's index, suitable for direct use as a root or as
// the target of a 0x45 indirection.
func (e *Encoder) placeFrame(fe sir.FrameExpr) int {
	switch fe.Kind {
	case sir.FrameSourceKind:
		i := e.reserve()
		e.b.Exprs[i] = e.encodeSourceInline(fe.Source)
		return i
	default:
		return e.placeFunc(fe.Filter)
	}
}

func (e *Encoder) encodeSourceInline(fs sir.FrameSource) uint64 {
	srcIdx := e.intern(&e.b.Sources, e.sourceIdx, fs.Video)
	switch fs.Index.Kind {
	case sir.ILoc:
		return pack(tagSourceILoc, (uint64(uint16(srcIdx))<<32)|uint64(uint32(fs.Index.Pos)))
	default:
		fracIdx := e.internFrac(fs.Index.Time)
		return pack(tagSourceFrac, (uint64(uint16(srcIdx))<<32)|uint64(uint32(fracIdx)))
	}
}

// placeFunc writes a Func header at a new position, followed immediately
// by its n_args + 2*n_kwargs child slots, and returns the header's index.
func (e *Encoder) placeFunc(fx sir.FilterExpr) int {
	nameIdx := e.intern(&e.b.Functions, e.functionIdx, fx.Name)
	headerIdx := e.reserve()
	e.b.Exprs[headerIdx] = pack(tagFunc,
		(uint64(len(fx.Args))<<24)|(uint64(len(fx.Kwargs))<<16)|uint64(uint16(nameIdx)))

	pos := len(e.b.Exprs)
	e.b.Exprs = append(e.b.Exprs, make([]uint64, len(fx.Args)+2*len(fx.Kwargs))...)
	for _, a := range fx.Args {
		e.encodeChild(pos, a)
		pos++
	}

	keys := make([]string, 0, len(fx.Kwargs))
	for k := range fx.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kidx := e.intern(&e.b.KwargKeys, e.kwargKeyIdx, k)
		e.b.Exprs[pos] = pack(tagKwargKey, uint64(uint32(kidx)))
		e.encodeChild(pos+1, fx.Kwargs[k])
		pos += 2
	}
	return headerIdx
}

// placeList writes a List header at a new position, followed immediately
// by its elements, and returns the header's index.
func (e *Encoder) placeList(items []sir.DataExpr) int {
	headerIdx := e.reserve()
	e.b.Exprs[headerIdx] = pack(tagListHeader, uint64(uint32(len(items))))
	e.b.Exprs = append(e.b.Exprs, make([]uint64, len(items))...)
	for i, it := range items {
		e.encodeChild(headerIdx+1+i, sir.DataArg(it))
	}
	return headerIdx
}

// encodeChild fills the already-reserved slot pos, a direct child of a
// Func or List. Every child slot of a node is reserved before any child
// is encoded, so nested placements triggered while computing a child's
// value (which append to the end of Exprs) land after the node's own
// children instead of between them.
func (e *Encoder) encodeChild(pos int, child sir.Expr) {
	v := e.encodeValue(child)
	e.b.Exprs[pos] = v
}

// encodeValue returns the slot value for child, inlining it directly when
// scalar-codable and otherwise placing it elsewhere and returning a 0x45
// indirection to that position.
func (e *Encoder) encodeValue(child sir.Expr) uint64 {
	if child.Kind == sir.ExprFrameKind {
		switch child.Frame.Kind {
		case sir.FrameSourceKind:
			return e.encodeSourceInline(child.Frame.Source)
		default:
			idx := e.placeFunc(child.Frame.Filter)
			return pack(tagIndirect, uint64(uint32(idx)))
		}
	}
	return e.encodeDataInline(child.Data)
}

func fitsInt32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

func fitsInt16(v int64) bool {
	return v >= math.MinInt16 && v <= math.MaxInt16
}

func allInt16(items []sir.DataExpr) bool {
	for _, it := range items {
		if it.Kind != sir.KindInt || !fitsInt16(it.Int) {
			return false
		}
	}
	return true
}

func (e *Encoder) encodeDataInline(d sir.DataExpr) uint64 {
	switch d.Kind {
	case sir.KindBool:
		var b uint64
		if d.Bool {
			b = 1
		}
		return pack(tagInlineBool, b)
	case sir.KindInt:
		if fitsInt32(d.Int) {
			return pack(tagInlineInt32, uint64(uint32(int32(d.Int))))
		}
		litIdx := e.internLiteral(d)
		return pack(tagLiteralRef, uint64(uint32(litIdx)))
	case sir.KindFloat:
		return pack(tagInlineFloat32, uint64(math.Float32bits(float32(d.Float))))
	case sir.KindString, sir.KindBytes:
		litIdx := e.internLiteral(d)
		return pack(tagLiteralRef, uint64(uint32(litIdx)))
	case sir.KindList:
		if len(d.List) == 0 {
			return pack(tagEmptyList, 0)
		}
		if len(d.List) <= 3 && allInt16(d.List) {
			return packInt16List(d.List)
		}
		idx := e.placeList(d.List)
		return pack(tagIndirect, uint64(uint32(idx)))
	default:
		return pack(tagEmptyList, 0)
	}
}

func packInt16List(items []sir.DataExpr) uint64 {
	u := func(i int) uint64 { return uint64(uint16(int16(items[i].Int))) }
	switch len(items) {
	case 1:
		return pack(tagInt16List1, u(0))
	case 2:
		return pack(tagInt16List2, (u(0)<<16)|u(1))
	default:
		return pack(tagInt16List3, (u(0)<<32)|(u(1)<<16)|u(2))
	}
}

// Decoder reads root frame expressions back out of a Block.
type Decoder struct {
	b Block
}

// NewDecoder wraps b for decoding.
func NewDecoder(b Block) *Decoder { return &Decoder{b: b} }

// FrameExpr decodes the root at Block.FrameExprs[root].
func (d *Decoder) FrameExpr(root int) (sir.FrameExpr, error) {
	if root < 0 || root >= len(d.b.FrameExprs) {
		return sir.FrameExpr{}, vferr.New(vferr.Unknown, "feb: root %d out of range", root)
	}
	e, err := d.decodeAt(int(d.b.FrameExprs[root]))
	if err != nil {
		return sir.FrameExpr{}, err
	}
	if e.Kind != sir.ExprFrameKind {
		return sir.FrameExpr{}, vferr.New(vferr.Unknown, "feb: root %d is not a frame expression", root)
	}
	return e.Frame, nil
}

// decodeAt interprets exprs[idx] as a standalone node: a Func header, a
// List header, or any inline-style slot.
func (d *Decoder) decodeAt(idx int) (sir.Expr, error) {
	if idx < 0 || idx >= len(d.b.Exprs) {
		return sir.Expr{}, vferr.New(vferr.Unknown, "feb: slot %d out of range", idx)
	}
	slot := d.b.Exprs[idx]
	switch tagOf(slot) {
	case tagFunc:
		return d.decodeFunc(idx, slot)
	case tagListHeader:
		return d.decodeList(idx, slot)
	default:
		return d.decodeValue(slot)
	}
}

func (d *Decoder) decodeFunc(idx int, slot uint64) (sir.Expr, error) {
	payload := payloadOf(slot)
	nArgs := int((payload >> 24) & 0xFF)
	nKwargs := int((payload >> 16) & 0xFF)
	nameIdx := int(payload & 0xFFFF)
	if nameIdx >= len(d.b.Functions) {
		return sir.Expr{}, vferr.New(vferr.Unknown, "feb: function index %d out of range", nameIdx)
	}

	args := make([]sir.Expr, nArgs)
	pos := idx + 1
	for i := 0; i < nArgs; i++ {
		v, err := d.decodeValue(d.b.Exprs[pos])
		if err != nil {
			return sir.Expr{}, err
		}
		args[i] = v
		pos++
	}

	kwargs := map[string]sir.Expr{}
	for i := 0; i < nKwargs; i++ {
		keySlot := d.b.Exprs[pos]
		if tagOf(keySlot) != tagKwargKey {
			return sir.Expr{}, vferr.New(vferr.Unknown, "feb: expected kwarg key at slot %d", pos)
		}
		keyIdx := int(payloadOf(keySlot))
		if keyIdx >= len(d.b.KwargKeys) {
			return sir.Expr{}, vferr.New(vferr.Unknown, "feb: kwarg key index %d out of range", keyIdx)
		}
		pos++
		v, err := d.decodeValue(d.b.Exprs[pos])
		if err != nil {
			return sir.Expr{}, err
		}
		kwargs[d.b.KwargKeys[keyIdx]] = v
		pos++
	}

	return sir.FrameArg(sir.Filter(d.b.Functions[nameIdx], args, kwargs)), nil
}

func (d *Decoder) decodeList(idx int, slot uint64) (sir.Expr, error) {
	length := int(payloadOf(slot))
	items := make([]sir.DataExpr, length)
	pos := idx + 1
	for i := 0; i < length; i++ {
		v, err := d.decodeValue(d.b.Exprs[pos])
		if err != nil {
			return sir.Expr{}, err
		}
		if v.Kind != sir.ExprDataKind {
			return sir.Expr{}, vferr.New(vferr.Unknown, "feb: list element at slot %d is not data", pos)
		}
		items[i] = v.Data
		pos++
	}
	return sir.DataArg(sir.List(items...)), nil
}

func (d *Decoder) decodeValue(slot uint64) (sir.Expr, error) {
	payload := payloadOf(slot)
	switch tagOf(slot) {
	case tagInlineInt32:
		return sir.DataArg(sir.Int(int64(int32(uint32(payload))))), nil
	case tagInlineBool:
		return sir.DataArg(sir.Bool(payload&1 == 1)), nil
	case tagInlineFloat32:
		f := math.Float32frombits(uint32(payload))
		return sir.DataArg(sir.Float(float64(f))), nil
	case tagEmptyList:
		return sir.DataArg(sir.DataExpr{Kind: sir.KindList}), nil
	case tagInt16List1:
		return sir.DataArg(sir.List(sir.Int(int64(int16(uint16(payload)))))), nil
	case tagInt16List2:
		v0 := int16(uint16(payload >> 16))
		v1 := int16(uint16(payload))
		return sir.DataArg(sir.List(sir.Int(int64(v0)), sir.Int(int64(v1)))), nil
	case tagInt16List3:
		v0 := int16(uint16(payload >> 32))
		v1 := int16(uint16(payload >> 16))
		v2 := int16(uint16(payload))
		return sir.DataArg(sir.List(sir.Int(int64(v0)), sir.Int(int64(v1)), sir.Int(int64(v2)))), nil
	case tagLiteralRef:
		litIdx := int(payload)
		if litIdx >= len(d.b.Literals) {
			return sir.Expr{}, vferr.New(vferr.Unknown, "feb: literal index %d out of range", litIdx)
		}
		return sir.DataArg(d.b.Literals[litIdx]), nil
	case tagSourceILoc:
		srcIdx := int((payload >> 32) & 0xFFFF)
		frameIdx := uint64(uint32(payload))
		if srcIdx >= len(d.b.Sources) {
			return sir.Expr{}, vferr.New(vferr.Unknown, "feb: source index %d out of range", srcIdx)
		}
		return sir.FrameArg(sir.Source(d.b.Sources[srcIdx], sir.NewILoc(frameIdx))), nil
	case tagSourceFrac:
		srcIdx := int((payload >> 32) & 0xFFFF)
		fracIdx := int(uint32(payload))
		if srcIdx >= len(d.b.Sources) || fracIdx >= len(d.b.SourceFracs) {
			return sir.Expr{}, vferr.New(vferr.Unknown, "feb: source/frac index out of range")
		}
		f := d.b.SourceFracs[fracIdx]
		return sir.FrameArg(sir.Source(d.b.Sources[srcIdx], sir.NewT(big.NewRat(f.Num, f.Den)))), nil
	case tagIndirect:
		return d.decodeAt(int(payload))
	default:
		return sir.Expr{}, vferr.New(vferr.Unknown, "feb: unrecognized tag 0x%02x", tagOf(slot))
	}
}

// EncodeFrameExprs encodes a batch of root frame expressions into one
// Block, returning their root indices in frame_exprs (parallel to fes).
func EncodeFrameExprs(fes []sir.FrameExpr) (Block, []int) {
	enc := NewEncoder()
	roots := make([]int, len(fes))
	for i, fe := range fes {
		roots[i] = enc.AddFrameExpr(fe)
	}
	return enc.Block(), roots
}
