package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MergeSummaries folds a freshly extracted partial summary into the existing
// one. Key facts are unioned with new values overriding same-named old ones;
// topics are unioned and de-duplicated preserving order; the narrative and
// the high-water mark are replaced by the new values. Pure function.
func MergeSummaries(old, new *ConversationSummary) *ConversationSummary {
	if old == nil {
		return new
	}
	if new == nil {
		return old
	}
	merged := &ConversationSummary{
		SessionID:               new.SessionID,
		KeyFacts:                map[string]string{},
		RecentContext:           new.RecentContext,
		LastSummarizedMessageID: new.LastSummarizedMessageID,
		CreatedAt:               new.CreatedAt,
	}
	for k, v := range old.KeyFacts {
		merged.KeyFacts[k] = v
	}
	for k, v := range new.KeyFacts {
		merged.KeyFacts[k] = v
	}
	seen := map[string]bool{}
	for _, t := range append(append([]string{}, old.MainTopics...), new.MainTopics...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged.MainTopics = append(merged.MainTopics, t)
	}
	return merged
}

// summaryPayload is the shape we ask the extraction model to produce.
type summaryPayload struct {
	KeyFacts      map[string]string `json:"keyFacts"`
	MainTopics    []string          `json:"mainTopics"`
	RecentContext string            `json:"recentContext"`
}

// ParseSummaryResponse pulls a structured summary out of a model response.
// Models wrap JSON in prose and code fences more often than not, so we take
// the outermost brace-delimited slice and try that.
func ParseSummaryResponse(raw string) (*summaryPayload, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in response")
	}
	var p summaryPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("decode summary response: %w", err)
	}
	if p.KeyFacts == nil {
		p.KeyFacts = map[string]string{}
	}
	return &p, nil
}

// fallbackSummary is what a session gets when the extraction call fails or
// returns garbage: better a thin summary than a failed turn.
func fallbackSummary(sessionID string, batch []Message) *ConversationSummary {
	lastID := ""
	if len(batch) > 0 {
		lastID = batch[len(batch)-1].ID
	}
	return &ConversationSummary{
		SessionID:               sessionID,
		KeyFacts:                map[string]string{},
		MainTopics:              []string{"conversation"},
		RecentContext:           fmt.Sprintf("Earlier conversation of %d messages.", len(batch)),
		LastSummarizedMessageID: lastID,
	}
}
