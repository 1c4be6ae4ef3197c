package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"maskfill/app/internal/db"
	"maskfill/app/internal/http/templates"
	"maskfill/app/internal/suggestion"
)

const (
	htmlContentType      = "text/html; charset=utf-8"
	persistedHeader      = "X-Suggestion-Persisted"
	errorFallbackMessage = "We couldn't process your request right now."
)

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type suggestInput struct {
	Body struct {
		Sequence string   `json:"sequence" doc:"Text containing the model's mask token" example:"The <mask> sat on the mat."`
		_        struct{} `json:"-" additionalProperties:"true"`
	}
}

type suggestOutput struct {
	Persisted string `header:"X-Suggestion-Persisted" doc:"false when the pending suggestion could not be stored"`
	Body      struct {
		SuggestedWords suggestion.Suggestions `json:"suggested_words" doc:"Candidates keyed by rank, \"1\" is the most likely"`
	}
}

type selectBody struct {
	SelectedWordID *int     `json:"selected_word_id,omitempty" doc:"Rank of the chosen candidate"`
	_              struct{} `json:"-" additionalProperties:"true"`
}

type selectInput struct {
	SelectedWordID string      `query:"selected_word_id" doc:"Rank of the chosen candidate; takes precedence over the body"`
	Body           *selectBody `required:"false"`
}

type selectOutput struct {
	Body struct {
		CompletedSentence string `json:"completed_sentence"`
	}
}

type healthResponse struct {
	Status int
	Body   struct {
		Status   string `json:"status"`
		Database string `json:"database"`
		Model    string `json:"model"`
		Mask     string `json:"mask_token"`
	}
}

func (s *Server) registerSuggestRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "suggest-word",
		Method:      stdhttp.MethodPost,
		Path:        "/suggest_word",
		Summary:     "Suggest words for a masked token",
		Errors: []int{
			stdhttp.StatusUnprocessableEntity,
			stdhttp.StatusTooManyRequests,
			stdhttp.StatusInternalServerError,
		},
	}, s.suggestHandler)
}

func (s *Server) registerSelectRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "select-word",
		Method:      stdhttp.MethodPost,
		Path:        "/select_word",
		Summary:     "Complete the pending sentence with a suggested word",
		Errors: []int{
			stdhttp.StatusNotFound,
			stdhttp.StatusUnprocessableEntity,
			stdhttp.StatusTooManyRequests,
			stdhttp.StatusInternalServerError,
		},
	}, s.selectHandler)
}

func (s *Server) registerHomeRoute() {
	huma.Get(s.api, "/", s.homeHandler, htmlOperation("Maskfill home", stdhttp.StatusInternalServerError))
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) suggestHandler(ctx context.Context, input *suggestInput) (*suggestOutput, error) {
	result, err := s.suggestions.Suggest(ctx, input.Body.Sequence)
	if err != nil {
		return nil, s.apiError(ctx, err, "suggesting words", logrus.Fields{"sequence": input.Body.Sequence})
	}

	if !result.Persisted {
		s.logWarn(ctx, "suggestion returned without a pending record", logrus.Fields{"sequence": input.Body.Sequence})
	}

	resp := &suggestOutput{Persisted: strconv.FormatBool(result.Persisted)}
	resp.Body.SuggestedWords = result.Words

	return resp, nil
}

func (s *Server) selectHandler(ctx context.Context, input *selectInput) (*selectOutput, error) {
	id, err := selectedWordID(input)
	if err != nil {
		return nil, err
	}

	completed, err := s.suggestions.Select(ctx, id)
	if err != nil {
		return nil, s.apiError(ctx, err, "selecting word", logrus.Fields{"selected_word_id": id})
	}

	resp := &selectOutput{}
	resp.Body.CompletedSentence = completed

	return resp, nil
}

func selectedWordID(input *selectInput) (int, error) {
	if raw := strings.TrimSpace(input.SelectedWordID); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return 0, huma.Error422UnprocessableEntity("selected_word_id must be an integer", &huma.ErrorDetail{
				Location: "query.selected_word_id",
				Value:    raw,
			})
		}
		return id, nil
	}

	if input.Body != nil && input.Body.SelectedWordID != nil {
		return *input.Body.SelectedWordID, nil
	}

	return 0, huma.Error422UnprocessableEntity("selected_word_id is required", &huma.ErrorDetail{
		Location: "query.selected_word_id",
		Message:  "expected a query parameter or a JSON body field",
	})
}

func (s *Server) homeHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	pending, err := s.suggestions.Pending(ctx)
	if err != nil {
		s.recordError(ctx, err, "loading pending suggestion", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "We couldn't load the pending suggestion right now.")
	}

	data := templates.HomePageData{
		Title:     "Maskfill",
		MaskToken: s.gateway.MaskToken(),
		Example:   fmt.Sprintf("The %s sat on the mat.", s.gateway.MaskToken()),
	}

	if pending != nil {
		view := &templates.PendingView{UserText: pending.UserText}
		for _, key := range sortedKeys(pending.SuggestedWords) {
			view.Words = append(view.Words, templates.WordView{ID: key, Word: pending.SuggestedWords[key]})
		}
		data.Pending = view
	}

	body, err := renderComponent(ctx, templates.HomePage(data))
	if err != nil {
		s.recordError(ctx, err, "rendering home page", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "We couldn't render the homepage.")
	}

	return newHTMLResponse(stdhttp.StatusOK, body), nil
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"
	resp.Body.Model = "ready"
	resp.Body.Mask = s.gateway.MaskToken()

	sqlDB, err := db.SQLDB(s.db)
	if err != nil {
		s.recordError(ctx, err, "obtaining sql db", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	} else if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.recordError(ctx, pingErr, "pinging database", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	if resp.Status == 0 {
		resp.Status = stdhttp.StatusOK
	}

	return resp, nil
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func htmlOperation(summary string, statuses ...int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		if summary != "" {
			op.Summary = summary
		}
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}

		statusCodes := append([]int{stdhttp.StatusOK}, statuses...)
		for _, status := range statusCodes {
			code := strconv.Itoa(status)
			op.Responses[code] = &huma.Response{
				Description: stdhttp.StatusText(status),
				Content: map[string]*huma.MediaType{
					htmlContentType: {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			}
		}
	}
}

// classifyError maps service failures to a status and the message shown to clients.
func classifyError(err error) (int, string) {
	switch {
	case err == nil:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	case eris.Is(err, suggestion.ErrEmptySequence):
		return stdhttp.StatusUnprocessableEntity, "Input sequence is empty"
	case eris.Is(err, suggestion.ErrNoMaskedToken):
		return stdhttp.StatusUnprocessableEntity, "No masked token found in the input sequence"
	case eris.Is(err, suggestion.ErrNoMaskLogits):
		return stdhttp.StatusUnprocessableEntity, "No logits for the masked token"
	case eris.Is(err, suggestion.ErrInvalidSelection):
		return stdhttp.StatusUnprocessableEntity, "Invalid selected_word_id"
	case eris.Is(err, suggestion.ErrNoPending):
		return stdhttp.StatusNotFound, "User text not found in the database"
	default:
		return stdhttp.StatusInternalServerError, err.Error()
	}
}

func (s *Server) apiError(ctx context.Context, err error, message string, fields logrus.Fields) error {
	status, detail := classifyError(err)
	if status >= stdhttp.StatusInternalServerError {
		s.recordError(ctx, err, message, fields)
	}
	return huma.NewError(status, detail)
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) (*htmlResponse, error) {
	label := fmt.Sprintf("%d %s", status, stdhttp.StatusText(status))
	template := templates.ErrorPage(templates.ErrorPageData{
		Title:       fmt.Sprintf("%s • Maskfill", label),
		StatusLabel: label,
		Message:     message,
	})

	body, err := renderComponent(ctx, template)
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		fallback := []byte(fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", label, message))
		return newHTMLResponse(status, fallback), nil
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}

func (s *Server) logWarn(ctx context.Context, message string, fields logrus.Fields) {
	if s.logger == nil {
		return
	}

	entry := s.logger.WithFields(fields)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	entry.Warn(message)
}

func sortedKeys(words suggestion.Suggestions) []string {
	keys := make([]string, 0, len(words))
	for key := range words {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left, leftErr := strconv.Atoi(keys[i])
		right, rightErr := strconv.Atoi(keys[j])
		if leftErr != nil || rightErr != nil {
			return keys[i] < keys[j]
		}
		return left < right
	})
	return keys
}
