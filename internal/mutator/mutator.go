// Package mutator implements the scheduled-havoc byte mutator: a stock
// transform set (flip, insert, delete, splice, arithmetic, known-ints,
// block-copy, block-swap) merged with dictionary token insertion, built
// around AFL-style bit/byte-flip mutators and interesting-value arrays.
package mutator

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/corefuzz/corefuzz/internal/buffers"
	"github.com/corefuzz/corefuzz/internal/input"
)

// Result is the outcome of a Mutate call: either a new candidate input, or
// Skipped when the mutator declined to produce one (e.g. input too small
// for the chosen transform).
type Result struct {
	Input   *input.Input
	Skipped bool
}

// Mutator transforms one input into a new candidate, clamped to maxSize.
type Mutator interface {
	Mutate(in *input.Input, maxSize int) Result
	// PostExec lets the mutator learn from the outcome of the candidate it
	// produced (e.g. extend the dictionary when the input was interesting).
	PostExec(in *input.Input, wasInteresting bool)
}

// Interesting8/16/32 are the classic AFL "interesting values" used by the
// known-ints transform: boundary integers likely to trip off-by-one and
// overflow bugs.
var (
	Interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	Interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	Interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

// Dictionary is an ordered token set the havoc mutator may splice in
// verbatim, e.g. the PNG magic and chunk-name tokens used to seed coverage
// on PNG-shaped targets.
type Dictionary [][]byte

// PNGDictionary is the canonical seed dictionary for PNG-shaped targets:
// the 8-byte magic plus four common chunk tags.
var PNGDictionary = Dictionary{
	{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	[]byte("IHDR"),
	[]byte("IDAT"),
	[]byte("PLTE"),
	[]byte("IEND"),
}

type transform int

const (
	tFlipBit transform = iota
	tFlipByte
	tInsert
	tDelete
	tSplice
	tArithmetic
	tKnownInts
	tBlockCopy
	tBlockSwap
	tDictInsert
	numTransforms
)

// Havoc is the stock scheduled-havoc mutator: each Mutate call applies a
// random subset of the byte-level transforms (optionally merged with
// dictionary token insertion), clamped to maxSize.
type Havoc struct {
	dict      Dictionary
	learned   [][]byte
	stackSize int // number of transforms stacked per call, like AFL havoc
}

// NewHavoc builds a Havoc mutator seeded with dict. stackSize controls how
// many transforms are applied per call (AFL typically stacks 2-8); pass 0
// for the default of 4.
func NewHavoc(dict Dictionary, stackSize int) *Havoc {
	if stackSize <= 0 {
		stackSize = 4
	}
	return &Havoc{dict: dict, stackSize: stackSize}
}

func (h *Havoc) Mutate(in *input.Input, maxSize int) Result {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	scratch := buffers.Global.Get(in.Len())
	copy(scratch, in.Bytes())
	buf := scratch
	applied := false

	for i := 0; i < h.stackSize; i++ {
		t := transform(randIntn(int(numTransforms)))
		next, ok := h.apply(t, buf, maxSize)
		if !ok {
			continue
		}
		buf = next
		applied = true
	}
	buffers.Global.Put(scratch)

	if !applied {
		return Result{Skipped: true}
	}
	if len(buf) > maxSize {
		buf = buf[:maxSize]
	}
	// buf may alias a pooled scratch slice from one of the transforms
	// below; copy it out to a private slice before handing it to Input,
	// which promises its bytes are stable for the lifetime of the value.
	out := append([]byte(nil), buf...)
	return Result{Input: input.New(out)}
}

func (h *Havoc) apply(t transform, buf []byte, maxSize int) ([]byte, bool) {
	switch t {
	case tFlipBit:
		return flipBit(buf)
	case tFlipByte:
		return flipByte(buf)
	case tInsert:
		return insertRandom(buf, maxSize)
	case tDelete:
		return deleteRandom(buf)
	case tSplice:
		return spliceDict(buf, h.dict, maxSize)
	case tArithmetic:
		return arithmetic(buf)
	case tKnownInts:
		return knownInts(buf)
	case tBlockCopy:
		return blockCopy(buf, maxSize)
	case tBlockSwap:
		return blockSwap(buf)
	case tDictInsert:
		return spliceDict(buf, append(h.dict, h.learned...), maxSize)
	default:
		return buf, false
	}
}

// PostExec learns a new dictionary token from inputs that turned out
// interesting, extending the dictionary on novel outcomes.
func (h *Havoc) PostExec(in *input.Input, wasInteresting bool) {
	if !wasInteresting || in == nil || in.Len() < 4 {
		return
	}
	if len(h.learned) >= 64 {
		return
	}
	n := in.Len()
	if n > 8 {
		n = 8
	}
	tok := append([]byte(nil), in.Bytes()[:n]...)
	h.learned = append(h.learned, tok)
}

func flipBit(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return buf, false
	}
	out := append([]byte(nil), buf...)
	pos := randIntn(len(out) * 8)
	out[pos/8] ^= 1 << uint(pos%8)
	return out, true
}

func flipByte(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return buf, false
	}
	out := append([]byte(nil), buf...)
	out[randIntn(len(out))] = byte(randIntn(256))
	return out, true
}

func insertRandom(buf []byte, maxSize int) ([]byte, bool) {
	if len(buf) >= maxSize {
		return buf, false
	}
	n := 1 + randIntn(8)
	if len(buf)+n > maxSize {
		n = maxSize - len(buf)
	}
	if n <= 0 {
		return buf, false
	}
	ins := make([]byte, n)
	for i := range ins {
		ins[i] = byte(randIntn(256))
	}
	pos := randIntn(len(buf) + 1)
	out := make([]byte, 0, len(buf)+n)
	out = append(out, buf[:pos]...)
	out = append(out, ins...)
	out = append(out, buf[pos:]...)
	return out, true
}

func deleteRandom(buf []byte) ([]byte, bool) {
	if len(buf) < 2 {
		return buf, false
	}
	n := 1 + randIntn(len(buf)/2)
	pos := randIntn(len(buf) - n + 1)
	out := make([]byte, 0, len(buf)-n)
	out = append(out, buf[:pos]...)
	out = append(out, buf[pos+n:]...)
	return out, true
}

func spliceDict(buf []byte, dict Dictionary, maxSize int) ([]byte, bool) {
	if len(dict) == 0 {
		return buf, false
	}
	tok := dict[randIntn(len(dict))]
	if len(buf)+len(tok) > maxSize {
		return buf, false
	}
	pos := randIntn(len(buf) + 1)
	out := make([]byte, 0, len(buf)+len(tok))
	out = append(out, buf[:pos]...)
	out = append(out, tok...)
	out = append(out, buf[pos:]...)
	return out, true
}

func arithmetic(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return buf, false
	}
	out := append([]byte(nil), buf...)
	pos := randIntn(len(out))
	delta := int8(randIntn(35) - 17) // +/- up to 17, like AFL's ARITH_MAX
	out[pos] = byte(int8(out[pos]) + delta)
	return out, true
}

func knownInts(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return buf, false
	}
	out := append([]byte(nil), buf...)
	switch randIntn(3) {
	case 0:
		pos := randIntn(len(out))
		out[pos] = byte(Interesting8[randIntn(len(Interesting8))])
	case 1:
		if len(out) < 2 {
			return buf, false
		}
		pos := randIntn(len(out) - 1)
		binary.LittleEndian.PutUint16(out[pos:], uint16(Interesting16[randIntn(len(Interesting16))]))
	default:
		if len(out) < 4 {
			return buf, false
		}
		pos := randIntn(len(out) - 3)
		binary.LittleEndian.PutUint32(out[pos:], uint32(Interesting32[randIntn(len(Interesting32))]))
	}
	return out, true
}

func blockCopy(buf []byte, maxSize int) ([]byte, bool) {
	if len(buf) < 2 {
		return buf, false
	}
	blockLen := 1 + randIntn(len(buf)/2)
	if len(buf)+blockLen > maxSize {
		return buf, false
	}
	src := randIntn(len(buf) - blockLen + 1)
	dst := randIntn(len(buf) + 1)
	block := append([]byte(nil), buf[src:src+blockLen]...)
	out := make([]byte, 0, len(buf)+blockLen)
	out = append(out, buf[:dst]...)
	out = append(out, block...)
	out = append(out, buf[dst:]...)
	return out, true
}

func blockSwap(buf []byte) ([]byte, bool) {
	if len(buf) < 4 {
		return buf, false
	}
	out := append([]byte(nil), buf...)
	a := randIntn(len(out) / 2)
	b := len(out)/2 + randIntn(len(out)/2)
	blockLen := 1 + randIntn(min(len(out)-b, b-a))
	if blockLen <= 0 {
		return buf, false
	}
	tmp := make([]byte, blockLen)
	copy(tmp, out[a:a+blockLen])
	copy(out[a:a+blockLen], out[b:b+blockLen])
	copy(out[b:b+blockLen], tmp)
	return out, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// randIntn returns a cryptographically-sourced random int in [0, n).
func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
