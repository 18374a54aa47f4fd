// Package tokenizer decodes the serialized tokenizer embedded in substring
// index files and exposes the narrow encode/decode surface the search core
// consumes. The serialized form is JSON: an ordered vocabulary (id = position)
// plus optional added tokens appended after the base vocabulary.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformed is returned when the serialized tokenizer cannot be decoded.
var ErrMalformed = errors.New("tokenizer: malformed serialized form")

type serializedForm struct {
	Vocab       []string `json:"vocab"`
	AddedTokens []string `json:"added_tokens"`
}

// Tokenizer encodes strings to vocabulary ids by greedy longest-match and
// decodes ids back to their surface strings.
type Tokenizer struct {
	vocab       []string
	addedTokens []string
	index       map[string]uint32
	maxTokenLen int
}

// FromBytes deserializes a tokenizer from the bytes embedded in an index file.
func FromBytes(p []byte) (*Tokenizer, error) {
	var form serializedForm
	if err := json.Unmarshal(p, &form); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(form.Vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrMalformed)
	}

	t := &Tokenizer{
		vocab:       form.Vocab,
		addedTokens: form.AddedTokens,
		index:       make(map[string]uint32, len(form.Vocab)+len(form.AddedTokens)),
	}
	for i, tok := range form.Vocab {
		if tok == "" {
			continue
		}
		t.index[tok] = uint32(i)
		if len(tok) > t.maxTokenLen {
			t.maxTokenLen = len(tok)
		}
	}
	for i, tok := range form.AddedTokens {
		t.index[tok] = uint32(len(form.Vocab) + i)
		if len(tok) > t.maxTokenLen {
			t.maxTokenLen = len(tok)
		}
	}
	return t, nil
}

// GetVocabSize returns the vocabulary size, optionally counting added tokens.
func (t *Tokenizer) GetVocabSize(includeAdded bool) int {
	if includeAdded {
		return len(t.vocab) + len(t.addedTokens)
	}
	return len(t.vocab)
}

// Decode concatenates the surface strings of the given ids. Ids beyond the
// vocabulary decode to nothing; skipSpecial additionally drops added tokens.
func (t *Tokenizer) Decode(ids []uint32, skipSpecial bool) string {
	var b strings.Builder
	for _, id := range ids {
		switch {
		case int(id) < len(t.vocab):
			b.WriteString(t.vocab[id])
		case !skipSpecial && int(id) < len(t.vocab)+len(t.addedTokens):
			b.WriteString(t.addedTokens[int(id)-len(t.vocab)])
		}
	}
	return b.String()
}

// Encode maps a string to vocabulary ids by greedy longest-match. Runes no
// vocabulary entry covers are skipped. addSpecial is accepted for interface
// parity and ignored; this tokenizer has no special framing tokens.
func (t *Tokenizer) Encode(s string, addSpecial bool) ([]uint32, error) {
	_ = addSpecial
	var ids []uint32
	for i := 0; i < len(s); {
		matchLen := 0
		var matchID uint32
		limit := t.maxTokenLen
		if rest := len(s) - i; limit > rest {
			limit = rest
		}
		for l := limit; l > 0; l-- {
			if id, ok := t.index[s[i:i+l]]; ok {
				matchLen, matchID = l, id
				break
			}
		}
		if matchLen == 0 {
			// No vocabulary entry starts here; advance one byte.
			i++
			continue
		}
		ids = append(ids, matchID)
		i += matchLen
	}
	return ids, nil
}
