package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDimension matches the sentence-transformer models commonly run locally.
const DefaultHashDimension = 384

// HashModel is an offline bag-of-words model using signed feature hashing.
//
// Words are lowercased and hashed into Dimension buckets; Han, Hiragana, Katakana
// and Hangul text is tokenized into character bigrams since it has no word
// separators. Texts sharing vocabulary get high cosine similarity, which is enough
// for keyword-style retrieval without a network dependency.
type HashModel struct {
	Dimension int
}

// NewHashModel returns a HashModel with dim buckets (DefaultHashDimension if dim <= 0).
func NewHashModel(dim int) *HashModel {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashModel{Dimension: dim}
}

func (m *HashModel) Name() string {
	return "hash-bow"
}

func (m *HashModel) Load(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.Dimension, nil
}

func (m *HashModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, m.Dimension)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(m.Dimension))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	return vec, nil
}

// tokenize splits text into lowercase words, emitting bigrams for ideographic runs.
func tokenize(text string) []string {
	var (
		tokens []string
		word   strings.Builder
		ideo   []rune
	)

	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	flushIdeo := func() {
		switch len(ideo) {
		case 0:
		case 1:
			tokens = append(tokens, string(ideo))
		default:
			for i := 0; i+1 < len(ideo); i++ {
				tokens = append(tokens, string(ideo[i:i+2]))
			}
		}
		ideo = ideo[:0]
	}

	for _, r := range text {
		switch {
		case isIdeographic(r):
			flushWord()
			ideo = append(ideo, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushIdeo()
			word.WriteRune(unicode.ToLower(r))
		default:
			flushWord()
			flushIdeo()
		}
	}
	flushWord()
	flushIdeo()

	return tokens
}

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
