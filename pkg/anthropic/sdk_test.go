package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	t.Run("full extraction reply", func(t *testing.T) {
		resp := fromSDKMessage(&sdk.Message{
			ID:           "msg_extract_01",
			Model:        "claude-haiku-4-5-20251001",
			StopReason:   "end_turn",
			StopSequence: "STOP",
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: `{"name":"CPE Soleil",`},
				{Type: "text", Text: `"tarif":9.10}`},
			},
			Usage: sdk.Usage{
				InputTokens:              100,
				OutputTokens:             50,
				CacheCreationInputTokens: 2000,
				CacheReadInputTokens:     3000,
			},
		})
		require.NotNil(t, resp)
		assert.Equal(t, "msg_extract_01", resp.ID)
		assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
		assert.Equal(t, "end_turn", resp.StopReason)
		assert.Equal(t, "STOP", resp.StopSequence)
		require.Len(t, resp.Content, 2)
		assert.Equal(t, "text", resp.Content[0].Type)
		assert.Equal(t, `{"name":"CPE Soleil",`, resp.Content[0].Text)
		assert.Equal(t, `"tarif":9.10}`, resp.Content[1].Text)
		assert.Equal(t, int64(100), resp.Usage.InputTokens)
		assert.Equal(t, int64(50), resp.Usage.OutputTokens)
		assert.Equal(t, int64(2000), resp.Usage.CacheCreationInputTokens)
		assert.Equal(t, int64(3000), resp.Usage.CacheReadInputTokens)
	})

	t.Run("truncated reply with no content", func(t *testing.T) {
		resp := fromSDKMessage(&sdk.Message{
			ID:         "msg_truncated",
			Model:      "claude-haiku-4-5-20251001",
			StopReason: "max_tokens",
		})
		require.NotNil(t, resp)
		assert.Empty(t, resp.Content)
		assert.Equal(t, "max_tokens", resp.StopReason)
		assert.Equal(t, int64(0), resp.Usage.InputTokens)
	})
}

func TestFromSDKBatch(t *testing.T) {
	t.Run("ended with mixed outcomes", func(t *testing.T) {
		resp := fromSDKBatch(&sdk.MessageBatch{
			ID:               "msgbatch_extract_07",
			ProcessingStatus: "ended",
			ResultsURL:       "https://api.anthropic.com/results/msgbatch_extract_07",
			RequestCounts: sdk.MessageBatchRequestCounts{
				Succeeded: 8,
				Errored:   1,
				Expired:   1,
			},
		})
		require.NotNil(t, resp)
		assert.Equal(t, "msgbatch_extract_07", resp.ID)
		assert.Equal(t, "ended", resp.ProcessingStatus)
		assert.Contains(t, resp.ResultsURL, "msgbatch_extract_07")
		assert.Equal(t, int64(0), resp.RequestCounts.Processing)
		assert.Equal(t, int64(8), resp.RequestCounts.Succeeded)
		assert.Equal(t, int64(1), resp.RequestCounts.Errored)
		assert.Equal(t, int64(0), resp.RequestCounts.Canceled)
		assert.Equal(t, int64(1), resp.RequestCounts.Expired)
	})

	t.Run("still processing", func(t *testing.T) {
		resp := fromSDKBatch(&sdk.MessageBatch{
			ID:               "msgbatch_extract_08",
			ProcessingStatus: "in_progress",
			RequestCounts:    sdk.MessageBatchRequestCounts{Processing: 10},
		})
		assert.Equal(t, "in_progress", resp.ProcessingStatus)
		assert.Equal(t, int64(10), resp.RequestCounts.Processing)
		assert.Equal(t, "", resp.ResultsURL)
	})
}

func TestFromSDKBatchResult(t *testing.T) {
	t.Run("succeeded carries the message", func(t *testing.T) {
		item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
			CustomID: "I-1001",
			Result: sdk.MessageBatchResultUnion{
				Type: "succeeded",
				Message: sdk.Message{
					ID:         "msg_r1",
					Model:      "claude-haiku-4-5-20251001",
					StopReason: "end_turn",
					Content: []sdk.ContentBlockUnion{
						{Type: "text", Text: `{"name":"CPE Soleil","subventionne":true}`},
					},
					Usage: sdk.Usage{InputTokens: 200, OutputTokens: 30},
				},
			},
		})
		assert.Equal(t, "I-1001", item.CustomID)
		assert.Equal(t, "succeeded", item.Type)
		require.NotNil(t, item.Message)
		assert.Equal(t, "msg_r1", item.Message.ID)
		assert.Contains(t, item.Message.Content[0].Text, "CPE Soleil")
		assert.Equal(t, int64(200), item.Message.Usage.InputTokens)
	})

	// Every non-succeeded result drops the message, whatever the reason.
	for _, typ := range []string{"errored", "canceled", "expired"} {
		t.Run(typ, func(t *testing.T) {
			item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
				CustomID: "I-2001",
				Result:   sdk.MessageBatchResultUnion{Type: typ},
			})
			assert.Equal(t, "I-2001", item.CustomID)
			assert.Equal(t, typ, item.Type)
			assert.Nil(t, item.Message)
		})
	}
}

func TestToSDKMessages(t *testing.T) {
	t.Run("user assistant and unknown roles all convert", func(t *testing.T) {
		sdkMsgs := toSDKMessages([]Message{
			{Role: "user", Content: "CPE Soleil\n45 av. des Érables"},
			{Role: "assistant", Content: `{"name":"CPE Soleil"}`},
			{Role: "supervisor", Content: "unknown roles default to user"},
		})
		require.Len(t, sdkMsgs, 3)
	})

	t.Run("nil input", func(t *testing.T) {
		assert.Empty(t, toSDKMessages(nil))
	})
}

func TestToSDKSystemBlocks(t *testing.T) {
	cases := []struct {
		name   string
		blocks []SystemBlock
		cached []bool
	}{
		{
			name:   "plain prompt",
			blocks: []SystemBlock{{Text: "Extract daycare fields as JSON."}},
			cached: []bool{false},
		},
		{
			name:   "cached prompt with ttl",
			blocks: []SystemBlock{{Text: testPrompt, CacheControl: &CacheControl{TTL: "1h"}}},
			cached: []bool{true},
		},
		{
			name:   "cache control with empty ttl still marks the block",
			blocks: []SystemBlock{{Text: "Liste des installations", CacheControl: &CacheControl{TTL: ""}}},
			cached: []bool{true},
		},
		{
			name: "mixed blocks keep order",
			blocks: []SystemBlock{
				{Text: "Tu es un extracteur de fiches de garderies."},
				{Text: testPrompt, CacheControl: &CacheControl{TTL: "5m"}},
				{Text: "Réponds uniquement en JSON."},
			},
			cached: []bool{false, true, false},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sdkBlocks := toSDKSystemBlocks(tc.blocks)
			require.Len(t, sdkBlocks, len(tc.blocks))
			for i, blk := range sdkBlocks {
				assert.Equal(t, tc.blocks[i].Text, blk.Text)
				if tc.cached[i] {
					assert.NotNil(t, blk.CacheControl, "block %d", i)
				}
			}
		})
	}
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	require.NotNil(t, NewClient("test-api-key"))
}

func TestMockBatchResultIterator(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		iter := NewMockBatchResultIterator(nil)
		assert.False(t, iter.Next())
		assert.NoError(t, iter.Err())
		assert.NoError(t, iter.Close())
	})

	t.Run("yields items in order", func(t *testing.T) {
		iter := NewMockBatchResultIterator([]BatchResultItem{
			{CustomID: "I-1001", Type: "succeeded"},
			{CustomID: "I-1002", Type: "errored"},
		})
		assert.True(t, iter.Next())
		assert.Equal(t, "I-1001", iter.Item().CustomID)
		assert.True(t, iter.Next())
		assert.Equal(t, "I-1002", iter.Item().CustomID)
		assert.False(t, iter.Next())
		assert.NoError(t, iter.Err())
	})

	t.Run("error surfaces after the last item", func(t *testing.T) {
		iter := NewMockBatchResultIteratorWithError(
			[]BatchResultItem{{CustomID: "I-1001", Type: "succeeded"}}, assert.AnError)
		assert.True(t, iter.Next())
		assert.Equal(t, "I-1001", iter.Item().CustomID)
		assert.False(t, iter.Next())
		assert.Equal(t, assert.AnError, iter.Err())
	})
}
