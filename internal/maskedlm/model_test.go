package maskedlm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	info      Info
	encodeIDs []int
	logits    [][]float32
	vocab     map[int]string
	err       error

	paths        []string
	lastTokenize tokenizeRequest
	lastLogits   logitsRequest
	lastConvert  convertRequest
}

func (f *fakeRequester) Get(_ context.Context, path string, _ any, res any, _ ...option.RequestOption) error {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return f.err
	}
	*(res.(*Info)) = f.info
	return nil
}

func (f *fakeRequester) Post(_ context.Context, path string, params any, res any, _ ...option.RequestOption) error {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return f.err
	}

	switch path {
	case "tokenize":
		f.lastTokenize = params.(tokenizeRequest)
		res.(*tokenizeResponse).InputIDs = f.encodeIDs
	case "logits":
		f.lastLogits = params.(logitsRequest)
		res.(*logitsResponse).Logits = f.logits
	case "convert_ids_to_tokens":
		f.lastConvert = params.(convertRequest)
		tokens := make([]string, 0, len(f.lastConvert.IDs))
		for _, id := range f.lastConvert.IDs {
			tokens = append(tokens, f.vocab[id])
		}
		res.(*convertResponse).Tokens = tokens
	}
	return nil
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func loadFakeModel(t *testing.T, fake *fakeRequester) *Model {
	t.Helper()

	client := &Client{api: fake, logger: silentLogger(), baseURL: "http://fake-model/"}
	model, err := Load(context.Background(), ModelOptions{Client: client, Name: "roberta-base"})
	require.NoError(t, err)
	t.Cleanup(model.Close)

	return model
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientOptions{})
	require.Error(t, err)
}

func TestNewClientAddsTrailingSlash(t *testing.T) {
	t.Parallel()

	client, err := NewClient(ClientOptions{BaseURL: "http://model:8000/v1"})
	require.NoError(t, err)
	assert.Equal(t, "http://model:8000/v1/", client.BaseURL())
}

func TestLoadAppliesDefaultsForMissingMetadata(t *testing.T) {
	t.Parallel()

	model := loadFakeModel(t, &fakeRequester{info: Info{Model: "roberta-base", MaskTokenID: 50264}})

	assert.Equal(t, 50264, model.MaskTokenID())
	assert.Equal(t, "<mask>", model.MaskToken())
	assert.Equal(t, "Ġ", model.WordBoundaryMarker())
}

func TestLoadRejectsInvalidMetadata(t *testing.T) {
	t.Parallel()

	cases := map[string]Info{
		"negative mask id":   {MaskTokenID: -1},
		"negative vocab":     {MaskTokenID: 1, VocabSize: -5},
		"mask outside vocab": {MaskTokenID: 10, VocabSize: 10},
	}

	for name, info := range cases {
		info := info
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := &Client{api: &fakeRequester{info: info}, logger: silentLogger()}
			_, err := Load(context.Background(), ModelOptions{Client: client, Name: "roberta-base"})
			require.Error(t, err)
		})
	}
}

func TestLoadPropagatesTransportError(t *testing.T) {
	t.Parallel()

	client := &Client{api: &fakeRequester{err: eris.New("connection refused")}, logger: silentLogger()}
	_, err := Load(context.Background(), ModelOptions{Client: client, Name: "roberta-base"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching model info")
}

func TestLoadRequiresClientAndName(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), ModelOptions{Name: "roberta-base"})
	require.Error(t, err)

	client := &Client{api: &fakeRequester{}, logger: silentLogger()}
	_, err = Load(context.Background(), ModelOptions{Client: client, Name: " "})
	require.Error(t, err)
}

func TestEncodeSendsRawText(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{info: Info{MaskTokenID: 4}, encodeIDs: []int{0, 7, 4, 2}}
	model := loadFakeModel(t, fake)

	ids, err := model.Encode(context.Background(), "  Hello <mask>  ")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 7, 4, 2}, ids)
	assert.Equal(t, "  Hello <mask>  ", fake.lastTokenize.Text)
	assert.Equal(t, "roberta-base", fake.lastTokenize.Model)
}

func TestLogitsValidatesPositions(t *testing.T) {
	t.Parallel()

	model := loadFakeModel(t, &fakeRequester{info: Info{MaskTokenID: 4}})

	_, err := model.Logits(context.Background(), nil, []int{0})
	require.Error(t, err)

	_, err = model.Logits(context.Background(), []int{1, 4}, []int{2})
	require.Error(t, err)
}

func TestLogitsChecksRowWidthAgainstVocabulary(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{
		info:   Info{MaskTokenID: 1, VocabSize: 3},
		logits: [][]float32{{0.1, 0.2}},
	}
	model := loadFakeModel(t, fake)

	_, err := model.Logits(context.Background(), []int{0, 1, 2}, []int{1})
	require.Error(t, err)
}

func TestLogitsPassesEmptyMatrixThrough(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{info: Info{MaskTokenID: 1, VocabSize: 3}, logits: [][]float32{}}
	model := loadFakeModel(t, fake)

	rows, err := model.Logits(context.Background(), []int{0, 1, 2}, []int{1})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, []int{1}, fake.lastLogits.Positions)
}

func TestConvertIDsToTokensCachesVocabulary(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{
		info:  Info{MaskTokenID: 1},
		vocab: map[int]string{10: "Ġcat", 11: "Ġdog", 12: "Ġbird"},
	}
	model := loadFakeModel(t, fake)

	tokens, err := model.ConvertIDsToTokens(context.Background(), []int{10, 11})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ġcat", "Ġdog"}, tokens)

	tokens, err = model.ConvertIDsToTokens(context.Background(), []int{11, 12, 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ġdog", "Ġbird", "Ġcat"}, tokens)

	assert.Equal(t, []int{12}, fake.lastConvert.IDs, "only uncached ids should be requested")

	calls := 0
	for _, path := range fake.paths {
		if path == "convert_ids_to_tokens" {
			calls++
		}
	}
	assert.Equal(t, 2, calls)
}

func TestModelSpeaksJSONOverHTTP(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"model":         "roberta-base",
			"mask_token":    "<mask>",
			"mask_token_id": 3,
			"vocab_size":    4,
		})
	})
	mux.HandleFunc("POST /v1/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var body tokenizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hi <mask>", body.Text)
		writeJSON(t, w, map[string]any{"input_ids": []int{0, 2, 3, 1}})
	})
	mux.HandleFunc("POST /v1/logits", func(w http.ResponseWriter, r *http.Request) {
		var body logitsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []int{2}, body.Positions)
		writeJSON(t, w, map[string]any{"logits": [][]float32{{0.5, 0.1, 0.9, 0.2}}})
	})
	mux.HandleFunc("POST /v1/convert_ids_to_tokens", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"tokens": []string{"Ġthere"}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientOptions{BaseURL: server.URL + "/v1", Logger: silentLogger()})
	require.NoError(t, err)

	ctx := context.Background()
	model, err := Load(ctx, ModelOptions{Client: client, Name: "roberta-base"})
	require.NoError(t, err)
	t.Cleanup(model.Close)

	assert.Equal(t, 3, model.MaskTokenID())
	assert.Equal(t, 4, model.Info().VocabSize)

	ids, err := model.Encode(ctx, "Hi <mask>")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 1}, ids)

	rows, err := model.Logits(ctx, ids, []int{2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.9, rows[0][2], 1e-6)

	tokens, err := model.ConvertIDsToTokens(ctx, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ġthere"}, tokens)
}

func TestModelSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"mask_token_id": 3})
	})
	mux.HandleFunc("POST /tokenize", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"model is warming up"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientOptions{BaseURL: server.URL, Logger: silentLogger()})
	require.NoError(t, err)

	model, err := Load(context.Background(), ModelOptions{Client: client, Name: "roberta-base"})
	require.NoError(t, err)
	t.Cleanup(model.Close)

	_, err = model.Encode(context.Background(), "Hi <mask>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenizing input")
	assert.Contains(t, err.Error(), "503")
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}
