package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "do": true, "for": true, "from": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "me": true, "my": true, "of": true, "on": true, "or": true,
	"our": true, "the": true, "to": true, "we": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "with": true, "you": true,
}

// HashingEmbedder returns a deterministic bag-of-words embedding (feature
// hashing into dim buckets, L2-normalized). It needs no network access and
// ranks documents by shared vocabulary.
func HashingEmbedder(dim int) chromem.EmbeddingFunc {
	if dim <= 1 {
		dim = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		// Bucket 0 is a constant bias so no vector is all zeros.
		vec[0] = 0.01
		for _, tok := range Terms(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum32()
			idx := 1 + int(sum%uint32(dim-1))
			if sum&(1<<31) != 0 {
				vec[idx] -= 1
			} else {
				vec[idx] += 1
			}
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
		return vec, nil
	}
}

// Terms lowercases text and returns its non-stopword tokens, with a naive
// plural strip so "holidays" matches "holiday".
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}
