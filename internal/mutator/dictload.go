package mutator

import (
	"os"
	"sync"

	"github.com/corefuzz/corefuzz/internal/asyncjobs"
	"github.com/corefuzz/corefuzz/internal/corelog"
)

// LoadDictionaryFiles reads every path concurrently (one file can be slow
// on a network mount; a single corpus directory listing shouldn't serialize
// behind it) via the shared async job pool, treating each line as one
// dictionary token. A file that fails to read is logged and skipped rather
// than failing the whole load — a missing optional dictionary file must
// never block the fuzz loop from starting.
func LoadDictionaryFiles(pool *asyncjobs.Pool, paths []string) Dictionary {
	var mu sync.Mutex
	var dict Dictionary

	for _, path := range paths {
		p := path
		err := pool.Submit(func() {
			tokens, err := readDictFile(p)
			if err != nil {
				corelog.Logf(0, "dictionary load %q: %v", p, err)
				return
			}
			mu.Lock()
			dict = append(dict, tokens...)
			mu.Unlock()
		})
		if err != nil {
			corelog.Logf(0, "dictionary load %q: submit failed: %v", p, err)
		}
	}
	pool.Wait()
	return dict
}

// readDictFile parses one AFL-style dictionary file: one token per line,
// blank lines and '#'-prefixed comments skipped. A token wrapped in double
// quotes has the quotes stripped and each backslash dropped in favour of
// the byte after it; \xNN hex escapes and name="value" lines are not
// decoded and are kept as literal bytes.
func readDictFile(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out Dictionary
	line := make([]byte, 0, 256)
	flush := func() {
		tok := unquoteToken(line)
		if len(tok) > 0 {
			out = append(out, tok)
		}
		line = line[:0]
	}
	for _, b := range data {
		if b == '\n' {
			flush()
			continue
		}
		line = append(line, b)
	}
	flush()
	return out, nil
}

func unquoteToken(line []byte) []byte {
	trimmed := trimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == '#' {
		return nil
	}
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		inner := trimmed[1 : len(trimmed)-1]
		out := make([]byte, 0, len(inner))
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) {
				i++
			}
			out = append(out, inner[i])
		}
		return out
	}
	return append([]byte(nil), trimmed...)
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}
