// Package input defines the immutable byte-sequence Input type that flows
// through every corefuzz component: corpus, mutator, executor, stage.
package input

import (
	"crypto/sha256"
	"encoding/hex"
)

// Input is an immutable byte sequence. Mutators never modify an Input in
// place; they derive a new one via New/Clone + mutation.
type Input struct {
	bytes []byte
	hash  string
}

// New wraps data as an Input. The caller must not mutate data afterwards;
// callers that need to keep mutating their own buffer should pass a copy.
func New(data []byte) *Input {
	return &Input{bytes: data}
}

// Clone returns an Input holding a private copy of the bytes, safe to mutate
// via a freshly derived slice.
func (i *Input) Clone() *Input {
	cp := make([]byte, len(i.bytes))
	copy(cp, i.bytes)
	return &Input{bytes: cp}
}

// Bytes returns the target_bytes() view: the raw byte slice. Callers must
// treat it as read-only; use Clone to get a mutable copy.
func (i *Input) Bytes() []byte {
	return i.bytes
}

// Len returns the length of the input in bytes.
func (i *Input) Len() int {
	return len(i.bytes)
}

// Hash returns a stable content hash, computed lazily and cached.
func (i *Input) Hash() string {
	if i.hash == "" {
		sum := sha256.Sum256(i.bytes)
		i.hash = hex.EncodeToString(sum[:])
	}
	return i.hash
}
