package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// summarizeFetchLimit bounds how many backlog messages one summarization
// pass will read.
const summarizeFetchLimit = 500

// extractionTranscriptTokens caps the transcript handed to the extraction
// model so the summarization call itself cannot overflow the provider.
const extractionTranscriptTokens = 6000

// ContextManager assembles a bounded prompt context for a session and keeps
// its rolling summary current.
type ContextManager struct {
	store    *SessionStore
	provider Provider

	recentWindow int
	threshold    int
	minBatch     int
	charBudget   int

	logger *Logger
}

func NewContextManager(store *SessionStore, provider Provider, cfg Config, logger *Logger) *ContextManager {
	return &ContextManager{
		store:        store,
		provider:     provider,
		recentWindow: cfg.RecentWindow,
		threshold:    cfg.SummarizeThreshold,
		minBatch:     cfg.MinSummarizeBatch,
		charBudget:   cfg.ContextCharBudget,
		logger:       logger,
	}
}

// GetContextForSession returns the prompt-ready context: a synthetic system
// message carrying the rolling summary (when one exists) followed by the most
// recent raw messages, trimmed oldest-non-system-first to the char budget.
// The synthetic summary message is never dropped.
func (c *ContextManager) GetContextForSession(sessionID string) ([]Message, error) {
	recent, _, err := c.store.GetMessagesPaginated(sessionID, c.recentWindow, nil, Backward)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}

	var out []Message
	sum, err := c.store.GetSummary(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	if sum != nil {
		out = append(out, Message{
			SessionID: sessionID,
			Role:      RoleSystem,
			Content:   formatSummaryMessage(sum),
		})
	}
	out = append(out, recent...)

	total := 0
	for _, m := range out {
		total += utf8.RuneCountInString(m.Content)
	}
	// Drop the oldest non-system message until the budget holds, but always
	// keep at least the newest one.
	for total > c.charBudget {
		dropped := false
		for i, m := range out {
			if m.Role == RoleSystem {
				continue
			}
			if i == len(out)-1 {
				break
			}
			total -= utf8.RuneCountInString(m.Content)
			out = append(out[:i], out[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return out, nil
}

// MaybeSummarize refreshes the session's rolling summary when the message
// count has crossed an exact multiple of the threshold. Provider failures
// degrade to a minimal fallback summary; they never fail the chat turn.
func (c *ContextManager) MaybeSummarize(ctx context.Context, sessionID string) error {
	if c.threshold <= 0 {
		return nil
	}
	count, err := c.store.CountMessages(sessionID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count <= c.threshold || count%c.threshold != 0 {
		return nil
	}

	existing, err := c.store.GetSummary(sessionID)
	if err != nil {
		return fmt.Errorf("load summary: %w", err)
	}

	var batch []Message
	if existing != nil && existing.LastSummarizedMessageID != "" {
		batch, err = c.store.GetMessagesAfter(sessionID, existing.LastSummarizedMessageID, summarizeFetchLimit)
		if err != nil {
			return fmt.Errorf("load unsummarized messages: %w", err)
		}
	} else {
		// First pass: everything but the most recent window.
		keep := count - c.recentWindow
		if keep > 0 {
			batch, _, err = c.store.GetMessagesPaginated(sessionID, keep, nil, Forward)
			if err != nil {
				return fmt.Errorf("load first batch: %w", err)
			}
		}
	}
	if len(batch) < c.minBatch {
		return nil
	}

	newSum := c.extractSummary(ctx, sessionID, batch)
	merged := MergeSummaries(existing, newSum)
	if err := c.store.SaveSummary(merged); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	c.logger.Info("summary refreshed", map[string]interface{}{
		"session": sessionID, "batch": len(batch), "topics": len(merged.MainTopics),
	})
	return nil
}

func (c *ContextManager) extractSummary(ctx context.Context, sessionID string, batch []Message) *ConversationSummary {
	raw, err := c.provider.Complete(ctx, buildExtractionPrompt(batch))
	if err != nil {
		c.logger.Warn("summary extraction failed", map[string]interface{}{
			"session": sessionID, "error": err.Error(),
		})
		return fallbackSummary(sessionID, batch)
	}
	payload, err := ParseSummaryResponse(raw)
	if err != nil {
		c.logger.Warn("summary response unparseable", map[string]interface{}{
			"session": sessionID, "error": err.Error(),
		})
		return fallbackSummary(sessionID, batch)
	}
	return &ConversationSummary{
		SessionID:               sessionID,
		KeyFacts:                payload.KeyFacts,
		MainTopics:              payload.MainTopics,
		RecentContext:           payload.RecentContext,
		LastSummarizedMessageID: batch[len(batch)-1].ID,
	}
}

func formatSummaryMessage(sum *ConversationSummary) string {
	var sb strings.Builder
	sb.WriteString("Conversation memory from earlier turns:\n")
	if len(sum.KeyFacts) > 0 {
		sb.WriteString("Key facts:\n")
		for _, k := range sortedKeys(sum.KeyFacts) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, sum.KeyFacts[k])
		}
	}
	if len(sum.MainTopics) > 0 {
		fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(sum.MainTopics, ", "))
	}
	if sum.RecentContext != "" {
		sb.WriteString(sum.RecentContext)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func buildExtractionPrompt(batch []Message) string {
	var sb strings.Builder
	sb.WriteString("Extract structured memory from this conversation excerpt. ")
	sb.WriteString("Respond with JSON only: {\"keyFacts\": {\"name\": \"value\"}, ")
	sb.WriteString("\"mainTopics\": [\"topic\"], \"recentContext\": \"short narrative\"}.\n\n")
	used := 0
	for _, m := range batch {
		line := fmt.Sprintf("[%s] %s\n", strings.ToUpper(m.Role), m.Content)
		t := EstimateTokens(line)
		if used+t > extractionTranscriptTokens {
			sb.WriteString("[transcript truncated]\n")
			break
		}
		used += t
		sb.WriteString(line)
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
