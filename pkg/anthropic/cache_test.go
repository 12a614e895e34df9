package anthropic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPrompt = "Extract structured data from this daycare information as JSON..."

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks(testPrompt)

	require.Len(t, blocks, 1)
	assert.Equal(t, testPrompt, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_EmptyText(t *testing.T) {
	blocks := BuildCachedSystemBlocks("")

	require.Len(t, blocks, 1)
	assert.Equal(t, "", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestPrimerRequest_Success(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 128,
		System:    BuildCachedSystemBlocks(testPrompt),
		Messages: []Message{
			{Role: "user", Content: "CPE Les Petits Explorateurs\n123 rue Principale, Montréal"},
		},
	}

	expected := &MessageResponse{
		ID:         "msg_primer",
		Model:      "claude-haiku-4-5-20251001",
		Content:    []ContentBlock{{Type: "text", Text: `{"name":"CPE Les Petits Explorateurs"}`}},
		StopReason: "end_turn",
		Usage: TokenUsage{
			InputTokens:              100,
			OutputTokens:             25,
			CacheCreationInputTokens: 800,
			CacheReadInputTokens:     0,
		},
	}

	mc.On("CreateMessage", ctx, req).Return(expected, nil)

	resp, err := PrimerRequest(ctx, mc, req)
	require.NoError(t, err)
	assert.Equal(t, "msg_primer", resp.ID)
	assert.Equal(t, int64(800), resp.Usage.CacheCreationInputTokens)

	mc.AssertExpectations(t)
}

func TestPrimerRequest_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 128,
		System:    BuildCachedSystemBlocks(testPrompt),
		Messages:  []Message{{Role: "user", Content: "Garderie du Parc"}},
	}

	mc.On("CreateMessage", ctx, req).Return(nil, fmt.Errorf("rate limited"))

	_, err := PrimerRequest(ctx, mc, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primer request")
	assert.Contains(t, err.Error(), "rate limited")

	mc.AssertExpectations(t)
}

func TestPrimerRequest_CacheHitOnSecondCall(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	systemBlocks := BuildCachedSystemBlocks(testPrompt)

	// First page pays for cache creation.
	req1 := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 128,
		System:    systemBlocks,
		Messages:  []Message{{Role: "user", Content: "CPE Soleil, 45 av. des Érables"}},
	}
	mc.On("CreateMessage", ctx, req1).Return(&MessageResponse{
		ID:         "msg_1",
		Content:    []ContentBlock{{Type: "text", Text: `{"name":"CPE Soleil"}`}},
		StopReason: "end_turn",
		Usage: TokenUsage{
			InputTokens:              100,
			CacheCreationInputTokens: 800,
			CacheReadInputTokens:     0,
		},
	}, nil)

	// Second page reads the cached prompt.
	req2 := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 128,
		System:    systemBlocks,
		Messages:  []Message{{Role: "user", Content: "Garderie du Parc, 12 rue Verte"}},
	}
	mc.On("CreateMessage", ctx, req2).Return(&MessageResponse{
		ID:         "msg_2",
		Content:    []ContentBlock{{Type: "text", Text: `{"name":"Garderie du Parc"}`}},
		StopReason: "end_turn",
		Usage: TokenUsage{
			InputTokens:              100,
			CacheCreationInputTokens: 0,
			CacheReadInputTokens:     800,
		},
	}, nil)

	resp1, err := PrimerRequest(ctx, mc, req1)
	require.NoError(t, err)
	assert.Equal(t, int64(800), resp1.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(0), resp1.Usage.CacheReadInputTokens)

	resp2, err := mc.CreateMessage(ctx, req2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp2.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(800), resp2.Usage.CacheReadInputTokens)

	mc.AssertExpectations(t)
}

func TestPrimerRequest_WithBatchWorkflow(t *testing.T) {
	// Full batch extraction pattern: warm the cache with a primer, submit
	// one batch item per saved page, poll to completion, collect results
	// keyed by installation ID.

	mc := new(MockClient)
	ctx := context.Background()

	systemBlocks := BuildCachedSystemBlocks(testPrompt)

	primerReq := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 128,
		System:    systemBlocks,
		Messages:  []Message{{Role: "user", Content: "CPE Soleil"}},
	}
	mc.On("CreateMessage", ctx, primerReq).Return(&MessageResponse{
		ID:         "msg_primer",
		StopReason: "end_turn",
		Usage:      TokenUsage{CacheCreationInputTokens: 800},
	}, nil)

	batchReq := BatchRequest{
		Requests: []BatchRequestItem{
			{CustomID: "I-1001", Params: MessageRequest{
				Model: "claude-haiku-4-5-20251001", MaxTokens: 1024,
				System:   systemBlocks,
				Messages: []Message{{Role: "user", Content: "CPE Soleil, 45 av. des Érables"}},
			}},
			{CustomID: "I-1002", Params: MessageRequest{
				Model: "claude-haiku-4-5-20251001", MaxTokens: 1024,
				System:   systemBlocks,
				Messages: []Message{{Role: "user", Content: "Garderie du Parc, 12 rue Verte"}},
			}},
		},
	}
	mc.On("CreateBatch", ctx, batchReq).Return(&BatchResponse{
		ID:               "batch_001",
		ProcessingStatus: "in_progress",
	}, nil)

	// mock.Anything for ctx because PollBatch attaches its own deadline.
	mc.On("GetBatch", mock.Anything, "batch_001").Return(&BatchResponse{
		ID:               "batch_001",
		ProcessingStatus: "ended",
		RequestCounts:    RequestCounts{Succeeded: 2},
	}, nil)

	resultItems := []BatchResultItem{
		{CustomID: "I-1001", Type: "succeeded", Message: &MessageResponse{
			ID: "msg_r1", Content: []ContentBlock{{Type: "text", Text: `{"name":"CPE Soleil"}`}},
			Usage: TokenUsage{CacheReadInputTokens: 800},
		}},
		{CustomID: "I-1002", Type: "succeeded", Message: &MessageResponse{
			ID: "msg_r2", Content: []ContentBlock{{Type: "text", Text: `{"name":"Garderie du Parc"}`}},
			Usage: TokenUsage{CacheReadInputTokens: 800},
		}},
	}
	mc.On("GetBatchResults", ctx, "batch_001").Return(
		NewMockBatchResultIterator(resultItems), nil,
	)

	resp, err := PrimerRequest(ctx, mc, primerReq)
	require.NoError(t, err)
	assert.Equal(t, int64(800), resp.Usage.CacheCreationInputTokens)

	batchResp, err := mc.CreateBatch(ctx, batchReq)
	require.NoError(t, err)

	polled, err := PollBatch(ctx, mc, batchResp.ID,
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "ended", polled.ProcessingStatus)

	iter, err := mc.GetBatchResults(ctx, "batch_001")
	require.NoError(t, err)

	results, err := CollectBatchResults(iter)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results["I-1001"].Content[0].Text, "CPE Soleil")
	assert.Contains(t, results["I-1002"].Content[0].Text, "Garderie du Parc")

	// Every batch item after the primer reads the warm cache.
	assert.Equal(t, int64(800), results["I-1001"].Usage.CacheReadInputTokens)
	assert.Equal(t, int64(800), results["I-1002"].Usage.CacheReadInputTokens)

	mc.AssertExpectations(t)
}

func TestPollBatch_ContextCancelled(t *testing.T) {
	mc := new(MockClient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mc.On("GetBatch", mock.Anything, "batch_cancel").Return(nil, context.Canceled)

	_, err := PollBatch(ctx, mc, "batch_cancel",
		WithPollInterval(10*time.Millisecond),
	)
	require.Error(t, err)
}
