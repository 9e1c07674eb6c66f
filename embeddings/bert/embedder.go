// Package bert produces sentence embeddings from a BERT-family encoder
// compiled to a NEFF. The program's batch size and sequence length are fixed
// at compile time and read from its input_ids tensor.
package bert

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/amikos-tech/pure-neuron/internal/nrtutil"
	"github.com/amikos-tech/pure-neuron/internal/tensordata"
	"github.com/amikos-tech/pure-neuron/nrt"
)

const (
	poolingDenominatorEpsilon = float32(1e-9)
	l2NormEpsilon             = float32(1e-12)
)

const (
	defaultInputIDsName      = "input_ids"
	defaultAttentionMaskName = "attention_mask"
	// #nosec G101 -- tensor identifier string, not credential material.
	defaultTokenTypeIDsName = "token_type_ids"
	defaultOutputName       = "last_hidden_state"
)

// Tokenizer encodes one document into fixed-length token rows. Mask and type
// ids may be nil; a missing mask is derived from non-zero ids.
type Tokenizer interface {
	Encode(text string) (ids, attentionMask, typeIDs []uint32, err error)
	Close() error
}

// Option customizes embedder initialization.
type Option func(*config) error

type config struct {
	tokenizerLibraryPath string
	inputIDsName         string
	attentionMaskName    string
	tokenTypeIDsName     string
	outputName           string
	modelOptions         []nrt.Option
}

func defaultConfig() config {
	return config{
		inputIDsName:      defaultInputIDsName,
		attentionMaskName: defaultAttentionMaskName,
		tokenTypeIDsName:  defaultTokenTypeIDsName,
		outputName:        defaultOutputName,
	}
}

// WithTokenizerLibraryPath sets the explicit pure-tokenizers shared library path.
func WithTokenizerLibraryPath(path string) Option {
	return func(cfg *config) error {
		if path == "" {
			return fmt.Errorf("tokenizer library path cannot be empty")
		}
		cfg.tokenizerLibraryPath = path
		return nil
	}
}

// WithInputOutputNames overrides the program's tensor names. tokenTypeIDsName
// may be empty for programs without that input.
func WithInputOutputNames(inputIDsName, attentionMaskName, tokenTypeIDsName, outputName string) Option {
	return func(cfg *config) error {
		if inputIDsName == "" || attentionMaskName == "" || outputName == "" {
			return fmt.Errorf("input/output names cannot be empty")
		}
		cfg.inputIDsName = inputIDsName
		cfg.attentionMaskName = attentionMaskName
		cfg.tokenTypeIDsName = tokenTypeIDsName
		cfg.outputName = outputName
		return nil
	}
}

// WithModelOptions forwards load options such as core placement.
func WithModelOptions(opts ...nrt.Option) Option {
	return func(cfg *config) error {
		cfg.modelOptions = append(cfg.modelOptions, opts...)
		return nil
	}
}

// Embedder embeds documents with a compiled encoder. Calls are serialized.
//
// The caller must initialize the Neuron runtime via nrt.InitializeEnvironment
// before NewEmbedder unless a runtime is supplied with WithModelOptions.
type Embedder struct {
	model     *nrt.Model
	tokenizer Tokenizer

	batchSize      int
	sequenceLength int
	hiddenDim      int
	pooled         bool

	inputIDs      nrt.TensorInfo
	attentionMask nrt.TensorInfo
	tokenTypeIDs  *nrt.TensorInfo
	output        nrt.TensorInfo
	outputBuf     []byte

	runMu sync.Mutex
}

// NewEmbedder loads the program at neffPath and the tokenizer.json at
// tokenizerPath. The tokenizer truncates and pads to the program's sequence
// length.
func NewEmbedder(neffPath string, tokenizerPath string, opts ...Option) (*Embedder, error) {
	if neffPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	if tokenizerPath == "" {
		return nil, fmt.Errorf("tokenizer path cannot be empty")
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	model, err := nrt.LoadModelFromFile(neffPath, cfg.modelOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	inputIDs, ok := findTensor(model.TensorInfo(), cfg.inputIDsName, nrt.TensorUsageInput)
	if !ok || inputIDs.NDim() != 2 {
		_ = model.Destroy()
		return nil, fmt.Errorf("model has no rank-2 input %q", cfg.inputIDsName)
	}

	tokenizer, err := NewTokenizer(tokenizerPath, int(inputIDs.Shape[1]), cfg.tokenizerLibraryPath)
	if err != nil {
		_ = model.Destroy()
		return nil, err
	}

	e, err := newEmbedder(model, tokenizer, cfg)
	if err != nil {
		_ = model.Destroy()
		_ = tokenizer.Close()
		return nil, err
	}
	return e, nil
}

// NewEmbedderFromModel wraps an already loaded model. On success the embedder
// owns model and tokenizer and releases both on Close; on error the caller
// keeps them.
func NewEmbedderFromModel(model *nrt.Model, tokenizer Tokenizer, opts ...Option) (*Embedder, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer cannot be nil")
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	return newEmbedder(model, tokenizer, cfg)
}

func resolveConfig(opts []Option) (config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}
	return cfg, nil
}

func newEmbedder(model *nrt.Model, tokenizer Tokenizer, cfg config) (*Embedder, error) {
	infos := model.TensorInfo()

	inputIDs, ok := findTensor(infos, cfg.inputIDsName, nrt.TensorUsageInput)
	if !ok || inputIDs.NDim() != 2 {
		return nil, fmt.Errorf("model has no rank-2 input %q", cfg.inputIDsName)
	}
	batchSize, sequenceLength := int(inputIDs.Shape[0]), int(inputIDs.Shape[1])
	if batchSize == 0 || sequenceLength == 0 {
		return nil, fmt.Errorf("input %q has an empty shape [%s]", cfg.inputIDsName, nrt.FormatShape(inputIDs.Shape))
	}

	attentionMask, ok := findTensor(infos, cfg.attentionMaskName, nrt.TensorUsageInput)
	if !ok || !sameShape(attentionMask, inputIDs) {
		return nil, fmt.Errorf("model has no input %q shaped like %q", cfg.attentionMaskName, cfg.inputIDsName)
	}

	var tokenTypeIDs *nrt.TensorInfo
	if cfg.tokenTypeIDsName != "" {
		if info, ok := findTensor(infos, cfg.tokenTypeIDsName, nrt.TensorUsageInput); ok {
			if !sameShape(info, inputIDs) {
				return nil, fmt.Errorf("input %q is not shaped like %q", cfg.tokenTypeIDsName, cfg.inputIDsName)
			}
			tokenTypeIDs = &info
		}
	}

	output, ok := findTensor(infos, cfg.outputName, nrt.TensorUsageOutput)
	if !ok {
		return nil, fmt.Errorf("model has no output %q", cfg.outputName)
	}
	if !isFloat(output.DType) {
		return nil, fmt.Errorf("output %q has non-float dtype %s", cfg.outputName, output.DType)
	}

	e := &Embedder{
		model:          model,
		tokenizer:      tokenizer,
		batchSize:      batchSize,
		sequenceLength: sequenceLength,
		inputIDs:       inputIDs,
		attentionMask:  attentionMask,
		tokenTypeIDs:   tokenTypeIDs,
		output:         output,
	}
	switch {
	case output.NDim() == 3 && int(output.Shape[0]) == batchSize && int(output.Shape[1]) == sequenceLength:
		e.hiddenDim = int(output.Shape[2])
	case output.NDim() == 2 && int(output.Shape[0]) == batchSize:
		e.hiddenDim = int(output.Shape[1])
		e.pooled = true
	default:
		return nil, fmt.Errorf("output %q shape [%s] is neither [batch,seq,dim] nor [batch,dim]", cfg.outputName, nrt.FormatShape(output.Shape))
	}
	if e.hiddenDim == 0 {
		return nil, fmt.Errorf("output %q has zero width", cfg.outputName)
	}

	// Token inputs are rebound per batch. Everything else is bound once:
	// the embedding output to outputBuf, any other tensor to zeros.
	e.outputBuf = make([]byte, output.Size)
	if err := model.Bind(output.Name, nrt.TensorUsageOutput, e.outputBuf); err != nil {
		return nil, err
	}
	for _, info := range infos {
		if e.isTokenInput(info) || (info.Usage == nrt.TensorUsageOutput && info.Name == output.Name) {
			continue
		}
		if err := model.Bind(info.Name, info.Usage, make([]byte, info.Size)); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Embedder) isTokenInput(info nrt.TensorInfo) bool {
	if info.Usage != nrt.TensorUsageInput {
		return false
	}
	switch info.Name {
	case e.inputIDs.Name, e.attentionMask.Name:
		return true
	}
	return e.tokenTypeIDs != nil && info.Name == e.tokenTypeIDs.Name
}

// BatchSize returns the compiled batch size.
func (e *Embedder) BatchSize() int {
	return e.batchSize
}

// SequenceLength returns the compiled sequence length.
func (e *Embedder) SequenceLength() int {
	return e.sequenceLength
}

// Dimension returns the embedding width.
func (e *Embedder) Dimension() int {
	return e.hiddenDim
}

// Close releases the model and the tokenizer.
func (e *Embedder) Close() error {
	if e == nil {
		return nil
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	var err error
	if e.model != nil {
		if destroyErr := nrtutil.DestroyAll(e.model); destroyErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to destroy model: %w", destroyErr))
		}
		e.model = nil
	}
	if e.tokenizer != nil {
		if closeErr := e.tokenizer.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		e.tokenizer = nil
	}
	return err
}

// EmbedDocuments embeds documents into L2-normalized vectors, running the
// program once per compiled batch.
func (e *Embedder) EmbedDocuments(documents []string) ([][]float32, error) {
	if e == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if len(documents) == 0 {
		return [][]float32{}, nil
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.model == nil || e.tokenizer == nil {
		return nil, fmt.Errorf("embedder has been closed")
	}

	embeddings := make([][]float32, 0, len(documents))
	for start := 0; start < len(documents); start += e.batchSize {
		end := min(start+e.batchSize, len(documents))
		batch, err := e.embedBatchLocked(documents[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(query string) ([]float32, error) {
	embeddings, err := e.EmbedDocuments([]string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("unexpected embedding row count: got %d, want 1", len(embeddings))
	}
	return embeddings[0], nil
}

func (e *Embedder) embedBatchLocked(documents []string) ([][]float32, error) {
	totalTokens := e.batchSize * e.sequenceLength
	inputIDs := make([]uint32, totalTokens)
	attentionMask := make([]uint32, totalTokens)
	tokenTypeIDs := make([]uint32, totalTokens)

	if err := e.tokenizeInto(documents, inputIDs, attentionMask, tokenTypeIDs); err != nil {
		return nil, err
	}

	if err := e.bindTokens(e.inputIDs, inputIDs); err != nil {
		return nil, err
	}
	if err := e.bindTokens(e.attentionMask, attentionMask); err != nil {
		return nil, err
	}
	if e.tokenTypeIDs != nil {
		if err := e.bindTokens(*e.tokenTypeIDs, tokenTypeIDs); err != nil {
			return nil, err
		}
	}

	if err := e.model.Execute(); err != nil {
		return nil, fmt.Errorf("embedding inference failed: %w", err)
	}

	hidden, err := decodeFloat32(e.output.DType, e.outputBuf)
	if err != nil {
		return nil, err
	}

	var embeddings [][]float32
	if e.pooled {
		embeddings, err = normalizeRows(hidden, e.batchSize, e.hiddenDim)
	} else {
		embeddings, err = meanPoolAndNormalize(hidden, attentionMask, e.batchSize, e.sequenceLength, e.hiddenDim)
	}
	if err != nil {
		return nil, err
	}
	return embeddings[:len(documents)], nil
}

func (e *Embedder) bindTokens(info nrt.TensorInfo, tokens []uint32) error {
	buf, err := tensordata.ConvertUint32(info.DType, tokens)
	if err != nil {
		return fmt.Errorf("input %q: %w", info.Name, err)
	}
	return e.model.Bind(info.Name, nrt.TensorUsageInput, buf)
}

func (e *Embedder) tokenizeInto(documents []string, inputIDs, attentionMask, tokenTypeIDs []uint32) error {
	sequenceLength := e.sequenceLength
	for i, document := range documents {
		ids, mask, typeIDs, err := e.tokenizer.Encode(document)
		if err != nil {
			return fmt.Errorf("failed to tokenize document %d: %w", i, err)
		}

		rowStart := i * sequenceLength
		rowEnd := rowStart + sequenceLength
		copy(inputIDs[rowStart:rowEnd], ids)

		if len(mask) > 0 {
			copy(attentionMask[rowStart:rowEnd], mask)
		} else {
			deriveAttentionMask(attentionMask[rowStart:rowEnd], inputIDs[rowStart:rowEnd])
		}
		copy(tokenTypeIDs[rowStart:rowEnd], typeIDs)
	}
	return nil
}

func deriveAttentionMask(dst []uint32, tokenIDs []uint32) {
	for i := range dst {
		if tokenIDs[i] != 0 {
			dst[i] = 1
		}
	}
}

func meanPoolAndNormalize(lastHiddenState []float32, attentionMask []uint32, batchSize int, sequenceLength int, embeddingDim int) ([][]float32, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be > 0, got %d", sequenceLength)
	}
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dim must be > 0, got %d", embeddingDim)
	}

	expectedMaskLen := batchSize * sequenceLength
	if len(attentionMask) != expectedMaskLen {
		return nil, fmt.Errorf("attention mask length mismatch: got %d, want %d", len(attentionMask), expectedMaskLen)
	}
	expectedHiddenLen := expectedMaskLen * embeddingDim
	if len(lastHiddenState) != expectedHiddenLen {
		return nil, fmt.Errorf("last_hidden_state length mismatch: got %d, want %d", len(lastHiddenState), expectedHiddenLen)
	}

	embeddings := make([][]float32, batchSize)
	for row := 0; row < batchSize; row++ {
		embedding := make([]float32, embeddingDim)
		rowMaskOffset := row * sequenceLength

		denominator := float32(0)
		for tokenIndex := 0; tokenIndex < sequenceLength; tokenIndex++ {
			mask := attentionMask[rowMaskOffset+tokenIndex]
			if mask == 0 {
				continue
			}
			weight := float32(mask)
			denominator += weight

			hiddenOffset := (rowMaskOffset + tokenIndex) * embeddingDim
			for d := 0; d < embeddingDim; d++ {
				embedding[d] += lastHiddenState[hiddenOffset+d] * weight
			}
		}

		if denominator < poolingDenominatorEpsilon {
			denominator = poolingDenominatorEpsilon
		}
		invDenominator := float32(1.0) / denominator
		for d := range embedding {
			embedding[d] *= invDenominator
		}
		l2Normalize(embedding)
		embeddings[row] = embedding
	}
	return embeddings, nil
}

func normalizeRows(pooled []float32, batchSize int, embeddingDim int) ([][]float32, error) {
	if len(pooled) != batchSize*embeddingDim {
		return nil, fmt.Errorf("pooled output length mismatch: got %d, want %d", len(pooled), batchSize*embeddingDim)
	}
	embeddings := make([][]float32, batchSize)
	for row := range embeddings {
		embedding := append([]float32(nil), pooled[row*embeddingDim:(row+1)*embeddingDim]...)
		l2Normalize(embedding)
		embeddings[row] = embedding
	}
	return embeddings, nil
}

func l2Normalize(embedding []float32) {
	normSquared := 0.0
	for _, value := range embedding {
		normSquared += float64(value * value)
	}
	norm := float32(math.Sqrt(normSquared))
	if norm < l2NormEpsilon {
		norm = l2NormEpsilon
	}
	invNorm := float32(1.0) / norm
	for d := range embedding {
		embedding[d] *= invNorm
	}
}

func decodeFloat32(dtype nrt.DType, buf []byte) ([]float32, error) {
	values, err := tensordata.Decode(dtype, buf)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out, nil
}

func findTensor(infos []nrt.TensorInfo, name string, usage nrt.TensorUsage) (nrt.TensorInfo, bool) {
	for _, info := range infos {
		if info.Name == name && info.Usage == usage {
			return info, true
		}
	}
	return nrt.TensorInfo{}, false
}

func sameShape(a, b nrt.TensorInfo) bool {
	if a.NDim() != b.NDim() {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

func isFloat(dtype nrt.DType) bool {
	switch dtype {
	case nrt.DTypeFloat32, nrt.DTypeFloat16, nrt.DTypeBFloat16, nrt.DTypeFloat64:
		return true
	}
	return false
}
