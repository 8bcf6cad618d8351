package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/realtime"
)

// KnowledgeToolName is the tool the agent uses to query the knowledge service.
const KnowledgeToolName = "call_kofe"

// KnowledgeClient calls a chat-messages style knowledge service in blocking mode.
type KnowledgeClient struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
	SessionID  string
	User       string
}

type knowledgeRequest struct {
	Inputs         knowledgeInputs `json:"inputs"`
	Query          string          `json:"query"`
	ResponseMode   string          `json:"response_mode"`
	ConversationID *string         `json:"conversation_id"`
	User           string          `json:"user"`
}

type knowledgeInputs struct {
	SessionID string `json:"session_id"`
}

type knowledgeResponse struct {
	ConversationID string  `json:"conversation_id"`
	Answer         *string `json:"answer"`
}

// NewKnowledgeClient creates a client with a 30s HTTP timeout.
func NewKnowledgeClient(endpoint, apiKey, sessionID, user string) *KnowledgeClient {
	return &KnowledgeClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Endpoint:   endpoint,
		APIKey:     apiKey,
		SessionID:  sessionID,
		User:       user,
	}
}

// Ask sends query. conversationID is sent as null when empty; the returned id
// is whatever the service reports.
func (c *KnowledgeClient) Ask(ctx context.Context, query, conversationID string) (string, string, error) {
	if c.APIKey == "" {
		return "", "", fmt.Errorf("knowledge api key missing")
	}
	body := knowledgeRequest{
		Inputs:       knowledgeInputs{SessionID: c.SessionID},
		Query:        query,
		ResponseMode: "blocking",
		User:         c.User,
	}
	if conversationID != "" {
		body.ConversationID = &conversationID
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", "", fmt.Errorf("knowledge error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var kr knowledgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return "", "", fmt.Errorf("knowledge: decode response: %w", err)
	}
	if kr.Answer == nil {
		return "", "", errors.New("knowledge: response has no answer")
	}
	return *kr.Answer, kr.ConversationID, nil
}

// KnowledgeTool exposes c as the call_kofe tool.
func KnowledgeTool(c *KnowledgeClient) Tool {
	return Tool{
		Name:        KnowledgeToolName,
		Description: "Look up answers in the Kofe knowledge base for the caller's question.",
		Parameters: realtime.ToolParameters{
			Type: "object",
			Properties: map[string]realtime.ToolProperty{
				"query": {Type: "string", Description: "query from user"},
			},
			Required: []string{"query"},
		},
		Handler: HandlerFunc(func(ctx context.Context, call Call) (Result, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return Result{}, fmt.Errorf("parse arguments: %w", err)
			}
			if strings.TrimSpace(args.Query) == "" {
				return Result{}, errors.New("empty query")
			}
			answer, convID, err := c.Ask(ctx, args.Query, call.ConversationID)
			if err != nil {
				return Result{}, err
			}
			return Result{Answer: answer, ConversationID: convID}, nil
		}),
	}
}
