package generate

import (
	"encoding/json"
	"strings"

	"github.com/conorfennell/knolmark/internal/domain"
)

// ParseCards reads the model's reply. Anything that is not a JSON array
// yields no cards; elements missing a question or an answer are dropped.
func ParseCards(raw string) []domain.QA {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(raw)), &items); err != nil {
		return nil
	}

	var out []domain.QA
	for _, item := range items {
		var fields struct {
			Question *string `json:"question"`
			Answer   *string `json:"answer"`
		}
		if err := json.Unmarshal(item, &fields); err != nil {
			continue
		}
		if fields.Question == nil || fields.Answer == nil {
			continue
		}
		q, a := strings.TrimSpace(*fields.Question), strings.TrimSpace(*fields.Answer)
		if q == "" || a == "" {
			continue
		}
		out = append(out, domain.QA{Question: q, Answer: a})
	}
	return out
}

// stripFence removes a surrounding Markdown code fence such as ```json.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
