// Fuzzy-similarity enrichment for corpus entries: a TLSH-based index that
// lets a corpus report its nearest neighbor by structural similarity rather
// than exact content hash, narrowed from response-body diffing to
// corpus-input deduplication hints. This never vetoes an Add — the
// corpus contract has no novelty gate beyond the feedback/objective engine
// — it only annotates Testcase.Metadata so the minimizer scheduler and the
// monitor can surface near-duplicate clusters.
package corpus

import (
	"github.com/glaslos/tlsh"
)

// MinTLSHSize is the minimum input length TLSH can meaningfully hash;
// shorter inputs are skipped (common for early-corpus seeds).
const MinTLSHSize = 50

const similarityTag = "tlsh_digest"

// SimilarityIndex tracks a TLSH digest per indexed Testcase and answers
// nearest-neighbor queries by fuzzy distance.
type SimilarityIndex struct {
	digests map[Id]*tlsh.TLSH
}

// NewSimilarityIndex creates an empty index.
func NewSimilarityIndex() *SimilarityIndex {
	return &SimilarityIndex{digests: make(map[Id]*tlsh.TLSH)}
}

// Index computes and stores tc's TLSH digest under id, and stamps the
// human-readable digest string into the testcase's metadata bag. Inputs
// shorter than MinTLSHSize are skipped (not an error: TLSH simply can't
// hash them usefully).
func (s *SimilarityIndex) Index(id Id, tc *Testcase) {
	if tc.Input.Len() < MinTLSHSize {
		return
	}
	h, err := tlsh.HashBytes(tc.Input.Bytes())
	if err != nil {
		return
	}
	s.digests[id] = h
	tc.SetMetadata(similarityTag, h.String())
}

// Remove drops id from the index (called from a Corpus's Remove).
func (s *SimilarityIndex) Remove(id Id) {
	delete(s.digests, id)
}

// Nearest returns the indexed id whose digest is fuzzy-closest to tc's
// input, and the TLSH distance (0 = identical; the library's useful range
// tops out around 300). ok is false if tc is too short to hash or the
// index is empty.
func (s *SimilarityIndex) Nearest(tc *Testcase) (id Id, distance int, ok bool) {
	if tc.Input.Len() < MinTLSHSize || len(s.digests) == 0 {
		return 0, 0, false
	}
	h, err := tlsh.HashBytes(tc.Input.Bytes())
	if err != nil {
		return 0, 0, false
	}
	best := -1
	var bestID Id
	for cid, d := range s.digests {
		dist := h.Diff(d)
		if best < 0 || dist < best {
			best = dist
			bestID = cid
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return bestID, best, true
}

// Len reports how many entries carry a digest.
func (s *SimilarityIndex) Len() int { return len(s.digests) }
