package suggestion

import (
	"context"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"maskfill/app/internal/maskedlm"
)

// SuggestionCount is the number of candidates offered for a mask.
const SuggestionCount = 5

// Service defines the suggest/select flow on top of the model gateway and the store.
type Service interface {
	Suggest(ctx context.Context, sequence string) (*SuggestResult, error)
	Select(ctx context.Context, selectedWordID int) (string, error)
	Pending(ctx context.Context) (*PendingSuggestion, error)
}

// SuggestResult carries the ranked candidates. Persisted is false when the
// pending record could not be written; the candidates are still valid.
type SuggestResult struct {
	Words     Suggestions
	Persisted bool
}

type service struct {
	gateway   maskedlm.Gateway
	store     Store
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

var _ Service = (*service)(nil)

// NewService wires the suggestion service with its dependencies.
func NewService(gateway maskedlm.Gateway, store Store, logger *logrus.Logger, hub *sentry.Hub) (Service, error) {
	if gateway == nil {
		return nil, eris.New("model gateway is required")
	}
	if store == nil {
		return nil, eris.New("suggestion store is required")
	}

	return &service{
		gateway:   gateway,
		store:     store,
		logger:    logger,
		sentryHub: hub,
	}, nil
}

func (s *service) Suggest(ctx context.Context, sequence string) (*SuggestResult, error) {
	if strings.TrimSpace(sequence) == "" {
		return nil, eris.Wrap(ErrEmptySequence, "validating sequence")
	}

	ids, err := s.gateway.Encode(ctx, sequence)
	if err != nil {
		s.recordError(nil, err, "tokenizing sequence")
		return nil, eris.Wrap(err, "tokenizing sequence")
	}

	positions := maskPositions(ids, s.gateway.MaskTokenID())
	if len(positions) == 0 {
		return nil, eris.Wrap(ErrNoMaskedToken, "locating masked tokens")
	}

	rows, err := s.gateway.Logits(ctx, ids, positions)
	if err != nil {
		s.recordError(logrus.Fields{"masks": len(positions)}, err, "scoring masked tokens")
		return nil, eris.Wrap(err, "scoring masked tokens")
	}

	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, eris.Wrap(ErrNoMaskLogits, "reading masked token logits")
	}

	// Only the first mask is surfaced, even when the sequence holds several.
	candidates := topK(rows[0], SuggestionCount)

	tokens, err := s.gateway.ConvertIDsToTokens(ctx, candidates)
	if err != nil {
		s.recordError(nil, err, "converting candidate ids")
		return nil, eris.Wrap(err, "converting candidate ids")
	}

	marker := s.gateway.WordBoundaryMarker()
	words := make(Suggestions, len(tokens))
	for i, token := range tokens {
		words[strconv.Itoa(i+1)] = cleanToken(token, marker)
	}

	session, err := s.store.Connect(ctx)
	if err != nil {
		s.recordError(nil, err, "connecting to store")
		return nil, eris.Wrap(err, "connecting to store")
	}
	defer s.release(session)

	result := &SuggestResult{Words: words, Persisted: true}

	pending := PendingSuggestion{UserText: sequence, SuggestedWords: words}
	if err := session.Replace(ctx, pending); err != nil {
		// The caller still gets the candidates; a later Select will report ErrNoPending.
		s.recordError(logrus.Fields{"user_text": sequence}, err, "persisting pending suggestion")
		result.Persisted = false
	}

	return result, nil
}

func (s *service) Select(ctx context.Context, selectedWordID int) (string, error) {
	session, err := s.store.Connect(ctx)
	if err != nil {
		s.recordError(nil, err, "connecting to store")
		return "", eris.Wrap(err, "connecting to store")
	}
	defer s.release(session)

	record, err := session.ReadFirstPending(ctx)
	if err != nil {
		s.recordError(nil, err, "reading pending suggestion")
		return "", eris.Wrap(err, "reading pending suggestion")
	}

	if record == nil {
		return "", eris.Wrap(ErrNoPending, "reading pending suggestion")
	}

	if !gjson.Valid(record.SuggestedWords) {
		err := eris.New("stored suggested words are not valid JSON")
		s.recordError(logrus.Fields{"user_text": record.UserText}, err, "decoding pending suggestion")
		return "", err
	}

	key := strconv.Itoa(selectedWordID)
	word := gjson.Get(record.SuggestedWords, key)
	if !word.Exists() {
		return "", eris.Wrapf(ErrInvalidSelection, "selected_word_id %s", key)
	}

	completed := strings.Replace(record.UserText, s.gateway.MaskToken(), word.String(), 1)

	if err := session.Truncate(ctx); err != nil {
		s.recordError(nil, err, "clearing pending suggestion")
		return "", eris.Wrap(err, "clearing pending suggestion")
	}

	return completed, nil
}

func (s *service) Pending(ctx context.Context) (*PendingSuggestion, error) {
	session, err := s.store.Connect(ctx)
	if err != nil {
		s.recordError(nil, err, "connecting to store")
		return nil, eris.Wrap(err, "connecting to store")
	}
	defer s.release(session)

	record, err := session.ReadFirstPending(ctx)
	if err != nil {
		s.recordError(nil, err, "reading pending suggestion")
		return nil, eris.Wrap(err, "reading pending suggestion")
	}

	if record == nil {
		return nil, nil
	}

	words, err := DecodeSuggestions(record.SuggestedWords)
	if err != nil {
		s.recordError(logrus.Fields{"user_text": record.UserText}, err, "decoding pending suggestion")
		return nil, err
	}

	return &PendingSuggestion{UserText: record.UserText, SuggestedWords: words}, nil
}

func (s *service) release(session Session) {
	if err := session.Close(); err != nil {
		s.recordError(nil, err, "releasing store session")
	}
}

func (s *service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		s.sentryHub.CaptureException(err)
	}
}

func maskPositions(ids []int, maskID int) []int {
	var positions []int
	for idx, id := range ids {
		if id == maskID {
			positions = append(positions, idx)
		}
	}
	return positions
}

func cleanToken(token, marker string) string {
	if marker == "" {
		return token
	}
	return strings.ReplaceAll(token, marker, "")
}
