package conversation

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

type stubOpenAI struct {
	chatResp  openai.ChatCompletionResponse
	chatErr   error
	chatReq   openai.ChatCompletionRequest
	embedResp openai.EmbeddingResponse
	embedErr  error
}

func (s *stubOpenAI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.chatReq = req
	return s.chatResp, s.chatErr
}

func (s *stubOpenAI) CreateEmbeddings(_ context.Context, _ openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	return s.embedResp, s.embedErr
}

func TestOpenAICompleteMapsSystemBlocks(t *testing.T) {
	stub := &stubOpenAI{
		chatResp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "  answer  "}, FinishReason: openai.FinishReasonStop},
			},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	g := NewOpenAIGateway(stub, "", "")

	resp, err := g.Complete(context.Background(), LLMRequest{
		System: []string{"be brief"},
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "question"},
		},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	require.Equal(t, "answer", resp.Text)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, int32(15), resp.Usage.TotalTokens)

	require.Equal(t, "gpt-4o-mini", stub.chatReq.Model)
	require.Len(t, stub.chatReq.Messages, 2)
	require.Equal(t, openai.ChatMessageRoleSystem, stub.chatReq.Messages[0].Role)
	require.Equal(t, "be brief", stub.chatReq.Messages[0].Content)
	require.Equal(t, 64, stub.chatReq.MaxTokens)
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	g := NewOpenAIGateway(&stubOpenAI{}, "", "")

	_, err := g.Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "question"}},
	})
	require.Error(t, err)
}

func TestOpenAICompleteAPIFailure(t *testing.T) {
	g := NewOpenAIGateway(&stubOpenAI{chatErr: errors.New("rate limited")}, "", "")

	_, err := g.Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "question"}},
	})
	require.ErrorContains(t, err, "rate limited")
}

func TestOpenAIEmbed(t *testing.T) {
	stub := &stubOpenAI{
		embedResp: openai.EmbeddingResponse{
			Data: []openai.Embedding{
				{Embedding: []float32{0.1, 0.2}},
				{Embedding: []float32{0.3, 0.4}},
			},
		},
	}
	g := NewOpenAIGateway(stub, "", "")

	vectors, err := g.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Equal(t, []float32{0.3, 0.4}, vectors[1])
}

func TestOpenAIEmbedSizeMismatch(t *testing.T) {
	stub := &stubOpenAI{
		embedResp: openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{0.1}}},
		},
	}
	g := NewOpenAIGateway(stub, "", "")

	_, err := g.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	g := NewOpenAIGateway(&stubOpenAI{}, "", "")

	vectors, err := g.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}
