package maskedlm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/openai/openai-go/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaskToken          = "<mask>"
	defaultWordBoundaryMarker = "Ġ"
	defaultTokenCacheTTL      = time.Hour
)

// Gateway is the masked-language model collaborator: it tokenizes text, scores the
// vocabulary at masked positions and maps ids back to surface tokens.
type Gateway interface {
	Encode(ctx context.Context, text string) ([]int, error)
	Logits(ctx context.Context, inputIDs []int, positions []int) ([][]float32, error)
	ConvertIDsToTokens(ctx context.Context, ids []int) ([]string, error)
	MaskTokenID() int
	MaskToken() string
	WordBoundaryMarker() string
}

// Info describes the tokenizer and model served by the inference server.
type Info struct {
	Model              string `json:"model"`
	MaskToken          string `json:"mask_token"`
	MaskTokenID        int    `json:"mask_token_id"`
	WordBoundaryMarker string `json:"word_boundary_marker"`
	VocabSize          int    `json:"vocab_size"`
}

// ModelOptions configures Load.
type ModelOptions struct {
	Client        *Client
	Name          string
	TokenCacheTTL time.Duration
}

// Model is the process-wide gateway handle. It is resolved once by Load and is
// read-only afterwards, so a single instance is shared by every request.
type Model struct {
	client *Client
	name   string
	info   Info
	tokens *ttlcache.Cache[int, string]
}

var _ Gateway = (*Model)(nil)

type tokenizeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type tokenizeResponse struct {
	InputIDs []int `json:"input_ids"`
}

type logitsRequest struct {
	Model     string `json:"model"`
	InputIDs  []int  `json:"input_ids"`
	Positions []int  `json:"positions"`
}

type logitsResponse struct {
	Logits [][]float32 `json:"logits"`
}

type convertRequest struct {
	Model string `json:"model"`
	IDs   []int  `json:"ids"`
}

type convertResponse struct {
	Tokens []string `json:"tokens"`
}

// Load fetches the tokenizer metadata from the inference server and returns the
// shared gateway handle. Call Close to stop the token cache janitor.
func Load(ctx context.Context, opts ModelOptions) (*Model, error) {
	if opts.Client == nil {
		return nil, eris.New("model client is required")
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, eris.New("model name is required")
	}

	var info Info
	if err := opts.Client.api.Get(ctx, "info", nil, &info); err != nil {
		opts.Client.logError(logrus.Fields{"model": name, "status": statusCode(err)}, err, "fetching model info")
		return nil, eris.Wrap(err, "fetching model info")
	}

	if err := normaliseInfo(&info); err != nil {
		return nil, eris.Wrap(err, "validating model info")
	}

	if info.Model != "" && info.Model != name && opts.Client.logger != nil {
		opts.Client.logger.WithFields(logrus.Fields{
			"configured": name,
			"served":     info.Model,
		}).Warn("inference server reports a different model name")
	}

	ttl := opts.TokenCacheTTL
	if ttl <= 0 {
		ttl = defaultTokenCacheTTL
	}

	tokens := ttlcache.New[int, string](
		ttlcache.WithTTL[int, string](ttl),
		ttlcache.WithDisableTouchOnHit[int, string](),
	)
	go tokens.Start()

	return &Model{
		client: opts.Client,
		name:   name,
		info:   info,
		tokens: tokens,
	}, nil
}

func normaliseInfo(info *Info) error {
	if info.MaskTokenID < 0 {
		return eris.Errorf("mask token id %d is negative", info.MaskTokenID)
	}

	info.MaskToken = strings.TrimSpace(info.MaskToken)
	if info.MaskToken == "" {
		info.MaskToken = defaultMaskToken
	}

	if info.WordBoundaryMarker == "" {
		info.WordBoundaryMarker = defaultWordBoundaryMarker
	}

	if info.VocabSize < 0 {
		return eris.Errorf("vocab size %d is negative", info.VocabSize)
	}
	if info.VocabSize > 0 && info.MaskTokenID >= info.VocabSize {
		return eris.Errorf("mask token id %d is outside the vocabulary of %d tokens", info.MaskTokenID, info.VocabSize)
	}

	return nil
}

// Close stops the token cache expiration loop.
func (m *Model) Close() {
	if m == nil || m.tokens == nil {
		return
	}
	m.tokens.Stop()
}

// Info returns the metadata resolved at load time.
func (m *Model) Info() Info {
	return m.info
}

func (m *Model) MaskTokenID() int {
	return m.info.MaskTokenID
}

func (m *Model) MaskToken() string {
	return m.info.MaskToken
}

func (m *Model) WordBoundaryMarker() string {
	return m.info.WordBoundaryMarker
}

// Encode tokenizes text exactly as submitted, including special tokens.
func (m *Model) Encode(ctx context.Context, text string) ([]int, error) {
	var response tokenizeResponse
	if err := m.client.api.Post(ctx, "tokenize", tokenizeRequest{Model: m.name, Text: text}, &response); err != nil {
		m.client.logError(logrus.Fields{"model": m.name, "status": statusCode(err)}, err, "tokenizing input")
		return nil, eris.Wrap(err, "tokenizing input")
	}

	return response.InputIDs, nil
}

// Logits returns one vocabulary score row per requested position. An empty
// matrix is passed through untouched so callers can decide how to treat it.
func (m *Model) Logits(ctx context.Context, inputIDs []int, positions []int) ([][]float32, error) {
	if len(inputIDs) == 0 {
		return nil, eris.New("input ids are required")
	}

	for _, position := range positions {
		if position < 0 || position >= len(inputIDs) {
			return nil, eris.Errorf("position %d is outside the %d token sequence", position, len(inputIDs))
		}
	}

	var response logitsResponse
	request := logitsRequest{Model: m.name, InputIDs: inputIDs, Positions: positions}
	if err := m.client.api.Post(ctx, "logits", request, &response); err != nil {
		m.client.logError(logrus.Fields{"model": m.name, "status": statusCode(err)}, err, "scoring masked positions")
		return nil, eris.Wrap(err, "scoring masked positions")
	}

	if m.info.VocabSize > 0 {
		for idx, row := range response.Logits {
			if len(row) != 0 && len(row) != m.info.VocabSize {
				err := eris.Errorf("logit row %d has %d scores, expected %d", idx, len(row), m.info.VocabSize)
				m.client.logError(logrus.Fields{"model": m.name}, err, "validating logits")
				return nil, err
			}
		}
	}

	return response.Logits, nil
}

// ConvertIDsToTokens maps vocabulary ids to raw tokenizer tokens, preserving order.
// Tokens are cached since the vocabulary never changes while the server runs.
func (m *Model) ConvertIDsToTokens(ctx context.Context, ids []int) ([]string, error) {
	tokens := make([]string, len(ids))
	missing := make([]int, 0, len(ids))
	missingIdx := make([]int, 0, len(ids))

	for idx, id := range ids {
		if item := m.tokens.Get(id); item != nil {
			tokens[idx] = item.Value()
			continue
		}
		missing = append(missing, id)
		missingIdx = append(missingIdx, idx)
	}

	if len(missing) == 0 {
		return tokens, nil
	}

	var response convertResponse
	if err := m.client.api.Post(ctx, "convert_ids_to_tokens", convertRequest{Model: m.name, IDs: missing}, &response); err != nil {
		m.client.logError(logrus.Fields{"model": m.name, "status": statusCode(err)}, err, "converting ids to tokens")
		return nil, eris.Wrap(err, "converting ids to tokens")
	}

	if len(response.Tokens) != len(missing) {
		err := eris.Errorf("expected %d tokens, got %d", len(missing), len(response.Tokens))
		m.client.logError(logrus.Fields{"model": m.name}, err, "converting ids to tokens")
		return nil, err
	}

	for i, token := range response.Tokens {
		tokens[missingIdx[i]] = token
		m.tokens.Set(missing[i], token, ttlcache.DefaultTTL)
	}

	return tokens, nil
}

func statusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
