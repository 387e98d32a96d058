package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tuva-labs/tuva-server/internal/store"
)

const insightsCacheTTL = 24 * time.Hour

type InsightsPayload struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	GeneratedAt  string   `json:"generatedAt"`
}

// InsightsResult is either a generated payload (Status "ok") or an
// "insufficient" marker when the user has too few titled sessions.
type InsightsResult struct {
	Status  string
	Message string
	Payload InsightsPayload
}

// InsightsService summarizes a user's recent teaching sessions into
// strengths and improvement opportunities. Results are cached per user for a
// day; stale entries are evicted lazily on the next read.
type InsightsService struct {
	history *HistoryService
	llm     *FeatherlessService
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]InsightsPayload
}

func NewInsightsService(history *HistoryService, llm *FeatherlessService) *InsightsService {
	return &InsightsService{
		history: history,
		llm:     llm,
		ttl:     insightsCacheTTL,
		now:     time.Now,
		cache:   make(map[string]InsightsPayload),
	}
}

func (s *InsightsService) cached(userID string) (InsightsPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.cache[userID]
	if !ok {
		return InsightsPayload{}, false
	}
	generated, err := time.Parse(time.RFC3339, payload.GeneratedAt)
	if err != nil || s.now().Sub(generated) >= s.ttl {
		delete(s.cache, userID)
		return InsightsPayload{}, false
	}
	return payload, true
}

func (s *InsightsService) Insights(ctx context.Context, userID string) (*InsightsResult, error) {
	if payload, ok := s.cached(userID); ok {
		return &InsightsResult{Status: "ok", Payload: payload}, nil
	}

	conversations, err := s.history.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := recentTitles(conversations, 5)
	if len(summaries) < 3 {
		return &InsightsResult{
			Status:  "insufficient",
			Message: "Teach a few more sessions to unlock insights.",
		}, nil
	}

	var prompt strings.Builder
	prompt.WriteString(InsightsCoachPrompt)
	prompt.WriteString("\n\nSummaries:\n")
	for i, summary := range summaries {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, summary)
	}

	content, err := s.llm.Completion(ctx, []store.Message{{Role: store.RoleUser, Content: prompt.String()}})
	if err != nil {
		return nil, err
	}

	strengths, improvements := parseInsights(content)
	payload := InsightsPayload{
		Strengths:    strengths,
		Improvements: improvements,
		GeneratedAt:  s.now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.cache[userID] = payload
	s.mu.Unlock()

	return &InsightsResult{Status: "ok", Payload: payload}, nil
}

// recentTitles returns up to limit titles from the user's most recently
// updated conversations, skipping untitled or placeholder sessions.
func recentTitles(conversations []store.ConversationSummary, limit int) []string {
	titled := make([]store.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		if conv.Title != "" && conv.Title != "New Conversation" {
			titled = append(titled, conv)
		}
	}
	sort.Slice(titled, func(i, j int) bool {
		return titled[i].UpdatedAt > titled[j].UpdatedAt
	})
	if len(titled) > limit {
		titled = titled[:limit]
	}

	titles := make([]string, 0, len(titled))
	for _, conv := range titled {
		titles = append(titles, conv.Title)
	}
	return titles
}

// parseInsights splits the coach reply into its two bullet sections, keeping
// at most three bullets each.
func parseInsights(text string) (strengths, improvements []string) {
	strengths = []string{}
	improvements = []string{}
	section := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "strengths") {
			section = "strengths"
			continue
		}
		if strings.HasPrefix(lower, "opportunities") {
			section = "improvements"
			continue
		}

		bullet := strings.TrimSpace(strings.TrimLeft(line, "-* "))
		if bullet == "" {
			continue
		}
		switch section {
		case "strengths":
			strengths = append(strengths, bullet)
		case "improvements":
			improvements = append(improvements, bullet)
		}
	}

	if len(strengths) > 3 {
		strengths = strengths[:3]
	}
	if len(improvements) > 3 {
		improvements = improvements[:3]
	}
	return strengths, improvements
}
