package mutator

import (
	"testing"

	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/stretchr/testify/assert"
)

func TestHavocClampsToMaxSize(t *testing.T) {
	h := NewHavoc(nil, 8)
	in := input.New(make([]byte, 10))
	for i := 0; i < 50; i++ {
		res := h.Mutate(in, 10)
		if res.Skipped {
			continue
		}
		assert.LessOrEqual(t, res.Input.Len(), 10)
	}
}

func TestHavocDictionarySplice(t *testing.T) {
	h := NewHavoc(Dictionary{[]byte("IHDR")}, 1)
	hit := false
	for i := 0; i < 500 && !hit; i++ {
		res := h.Mutate(input.New(nil), 64)
		if res.Skipped {
			continue
		}
		if containsToken(res.Input.Bytes(), []byte("IHDR")) {
			hit = true
		}
	}
	assert.True(t, hit, "dictionary token should eventually be spliced in")
}

func TestPNGDictionaryTokens(t *testing.T) {
	assert.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, PNGDictionary[0])
	assert.Contains(t, [][]byte(PNGDictionary), []byte("IHDR"))
}

func containsToken(haystack, needle []byte) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
