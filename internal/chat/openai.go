package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient answers through an OpenAI compatible chat completions API
type OpenAIClient struct {
	client       oai.Client
	model        string
	systemPrompt string
}

// NewOpenAIClient creates a chat client. httpClient may be nil.
func NewOpenAIClient(apiKey, baseURL, model, systemPrompt string, httpClient *http.Client) (*OpenAIClient, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIClient{
		client:       oai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

// Chat implements Client
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (string, error) {
	messages, err := c.buildMessages(req)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	return CleanReply(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) buildMessages(req Request) ([]oai.ChatCompletionMessageParamUnion, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	system := c.systemPrompt
	if req.UserID != "" {
		system += fmt.Sprintf("\n当前说话人：%s", req.UserID)
	}
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}
	if req.ImagePath == "" {
		return append(messages, oai.UserMessage(req.Text)), nil
	}

	dataURL, err := imageDataURL(req.ImagePath)
	if err != nil {
		return nil, err
	}
	return append(messages, oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.Text),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	})), nil
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("openai: read image: %w", err)
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
