package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuva-labs/tuva-server/internal/core"
	"github.com/tuva-labs/tuva-server/internal/store"
)

func TestInitConversationSeedsSystemPrompt(t *testing.T) {
	ctx := context.Background()
	svc := core.NewHistoryService(store.NewMemoryStore())

	id, err := svc.InitConversation(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	detail, err := svc.GetConversation(ctx, id, "u1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	require.Equal(t, store.RoleSystem, detail.Messages[0].Role)
	require.Equal(t, core.StudentSystemPrompt, detail.Messages[0].Content)
}

func TestAppendExchangeGrowsPairwise(t *testing.T) {
	ctx := context.Background()
	svc := core.NewHistoryService(store.NewMemoryStore())

	id, err := svc.InitConversation(ctx, "u1")
	require.NoError(t, err)

	err = svc.AppendUserAndAssistantMessages(ctx, id, "u1", "What is recursion?", "A function calling itself.")
	require.NoError(t, err)

	detail, err := svc.GetConversation(ctx, id, "u1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 3)
	require.Equal(t, store.RoleUser, detail.Messages[1].Role)
	require.Equal(t, "What is recursion?", detail.Messages[1].Content)
	require.Equal(t, store.RoleAssistant, detail.Messages[2].Role)
	require.Equal(t, "A function calling itself.", detail.Messages[2].Content)

	err = svc.AppendUserAndAssistantMessages(ctx, id, "u1", "Give an example.", "Factorial.")
	require.NoError(t, err)

	detail, err = svc.GetConversation(ctx, id, "u1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 5)
	// Earlier turns are untouched by later appends.
	require.Equal(t, "What is recursion?", detail.Messages[1].Content)
	require.Equal(t, "A function calling itself.", detail.Messages[2].Content)
}

func TestAppendExchangeSharesTimestamp(t *testing.T) {
	ctx := context.Background()
	svc := core.NewHistoryService(store.NewMemoryStore())

	id, err := svc.InitConversation(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, svc.AppendUserAndAssistantMessages(ctx, id, "u1", "hi", "hello"))

	detail, err := svc.GetConversation(ctx, id, "u1")
	require.NoError(t, err)
	require.Equal(t, detail.Messages[1].Timestamp, detail.Messages[2].Timestamp)
}

func TestTimestampsNonDecreasingAfterRefetch(t *testing.T) {
	ctx := context.Background()
	svc := core.NewHistoryService(store.NewMemoryStore())

	id, err := svc.InitConversation(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, svc.AppendUserAndAssistantMessages(ctx, id, "u1", "What is recursion?", "A function calling itself."))
	require.NoError(t, svc.AppendUserAndAssistantMessages(ctx, id, "u1", "Give an example.", "Factorial."))

	detail, err := svc.GetConversation(ctx, id, "u1")
	require.NoError(t, err)

	var prev time.Time
	for i, msg := range detail.Messages {
		require.NotEmpty(t, msg.Timestamp)
		ts, err := time.Parse(time.RFC3339, msg.Timestamp)
		require.NoError(t, err)
		if i > 0 {
			require.False(t, ts.Before(prev), "message %d is stamped before message %d", i, i-1)
		}
		prev = ts
	}
}

func TestAppendExchangeUnknownConversation(t *testing.T) {
	ctx := context.Background()
	svc := core.NewHistoryService(store.NewMemoryStore())

	err := svc.AppendUserAndAssistantMessages(ctx, "missing", "u1", "hi", "hello")
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrNotFound))
}
