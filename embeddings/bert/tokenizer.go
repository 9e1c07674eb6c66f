package bert

import (
	"fmt"
	"os"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
)

// hfTokenizer adapts a pure-tokenizers Tokenizer configured for fixed-length
// rows.
type hfTokenizer struct {
	tokenizer *tokenizers.Tokenizer
}

// NewTokenizer loads tokenizer.json with truncation and fixed padding to
// sequenceLength. libraryPath is optional.
func NewTokenizer(tokenizerPath string, sequenceLength int, libraryPath string) (Tokenizer, error) {
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be > 0, got %d", sequenceLength)
	}
	if _, err := os.Stat(tokenizerPath); err != nil {
		return nil, fmt.Errorf("tokenizer path %q is not usable: %w", tokenizerPath, err)
	}

	opts := []tokenizers.TokenizerOption{
		tokenizers.WithTruncation(
			uintptr(sequenceLength),
			tokenizers.TruncationDirectionRight,
			tokenizers.TruncationStrategyLongestFirst,
		),
		tokenizers.WithPadding(true, tokenizers.PaddingStrategy{
			Tag:       tokenizers.PaddingStrategyFixed,
			FixedSize: uintptr(sequenceLength),
		}),
	}
	if libraryPath != "" {
		opts = append(opts, tokenizers.WithLibraryPath(libraryPath))
	}

	tokenizer, err := tokenizers.FromFile(tokenizerPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &hfTokenizer{tokenizer: tokenizer}, nil
}

func (t *hfTokenizer) Encode(text string) ([]uint32, []uint32, []uint32, error) {
	encoding, err := t.tokenizer.Encode(
		text,
		tokenizers.WithAddSpecialTokens(),
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnTypeIDs(),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	if encoding == nil {
		return nil, nil, nil, fmt.Errorf("empty tokenizer result")
	}
	return encoding.IDs, encoding.AttentionMask, encoding.TypeIDs, nil
}

func (t *hfTokenizer) Close() error {
	if t.tokenizer == nil {
		return nil
	}
	err := t.tokenizer.Close()
	t.tokenizer = nil
	return err
}
