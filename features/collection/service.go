package collection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ragbridge/internal/domain"
)

const (
	sampleSize   = 10
	maxQuestions = 5
	// suggestions shorter than this are noise like "Yes." or a stray bullet
	minQuestionLen = 10
)

// cannedQuestions are the fallback suggestions when a collection is empty
// or the language model cannot be reached.
var cannedQuestions = []string{
	"What topics are covered in this collection?",
	"Can you summarize the main themes of these documents?",
	"What are the key facts mentioned in this data?",
}

// Service lists collections and suggests starter questions about their
// content.
type Service struct {
	browser   Browser
	completer Completer
	lister    Lister
}

func NewService(browser Browser, completer Completer) *Service {
	return &Service{browser: browser, completer: completer}
}

// WithLister enables browsing collections of registered connections.
func (s *Service) WithLister(l Lister) *Service {
	s.lister = l
	return s
}

func (s *Service) List(ctx context.Context) ([]Info, error) {
	return s.browser.ListCollections(ctx)
}

// ListConnection lists the collections visible through a registered
// connection, classified the same way as the system store listing.
func (s *Service) ListConnection(ctx context.Context, connectionID string) ([]Info, error) {
	if s.lister == nil {
		return nil, fmt.Errorf("%w: connection browsing is not configured", domain.ErrAdapterUnavailable)
	}
	cols, err := s.lister.ListCollections(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(cols))
	for _, c := range cols {
		kind := "origin"
		if c.IsSemantic {
			kind = "semantic"
		}
		infos = append(infos, Info{
			Name:        c.Name,
			Type:        kind,
			IsSemantic:  c.IsSemantic,
			ApproxCount: c.ApproxCount,
		})
	}
	return infos, nil
}

// Questions proposes up to five questions a user could ask about a
// collection, derived from a sample of its documents. Suggestion failures
// degrade to canned defaults rather than erroring.
func (s *Service) Questions(ctx context.Context, collection string) ([]string, error) {
	samples, err := s.browser.Sample(ctx, collection, sampleSize)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return cannedQuestions, nil
	}

	raw, err := s.completer.Complete(ctx, questionsPrompt(samples))
	if err != nil {
		slog.WarnContext(ctx, "question suggestion failed, using defaults",
			"collection", collection, "error", err)
		return cannedQuestions, nil
	}

	questions := parseQuestions(raw)
	if len(questions) == 0 {
		return cannedQuestions, nil
	}
	return questions, nil
}

func questionsPrompt(samples []string) string {
	var b strings.Builder
	b.WriteString("Below are sample documents from a collection. ")
	b.WriteString("Suggest 3 to 5 concise questions a user could ask about this data. ")
	b.WriteString("Reply with one question per line and nothing else.\n\n")
	for i, sample := range samples {
		fmt.Fprintf(&b, "Document %d:\n%s\n\n", i+1, sample)
	}
	return b.String()
}

// parseQuestions pulls one question per line out of the model's reply,
// stripping list markers it tends to add anyway.
func parseQuestions(raw string) []string {
	var questions []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		line = strings.Trim(line, `"`)
		if len(line) < minQuestionLen {
			continue
		}
		questions = append(questions, line)
		if len(questions) == maxQuestions {
			break
		}
	}
	return questions
}
