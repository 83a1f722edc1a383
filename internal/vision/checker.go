// Package vision wraps the optional external multimodal side-classifier
// call used to confirm or override the heuristic detector.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	chatCompletionsURL = "https://openrouter.ai/api/v1/chat/completions"
	visionModel        = "google/gemini-2.5-flash-preview"

	lowerConfidenceBound = 0.6
	upperConfidenceBound = 0.9
	defaultSampleRate    = 0.1
)

// Side mirrors sidedetect.Side without importing it, keeping this package
// free of a dependency on the heuristic detector.
type Side string

const (
	SideFront   Side = "front"
	SideBack    Side = "back"
	SideUnknown Side = "unknown"
)

// Result is the outcome of a vision check.
type Result struct {
	Side       Side
	Confidence float64
	Method     string
}

func unknownResult() Result {
	return Result{Side: SideUnknown, Confidence: 0.5, Method: "vision"}
}

// CardContext carries the optional identity fields used to ask the model
// to flag a mismatched card.
type CardContext struct {
	CardNumber string
	SetCode    string
}

// Checker calls the configured vision model to confirm or override a
// heuristic side classification.
type Checker struct {
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
	rand       func() float64
	endpoint   string
}

// New builds a Checker. An empty apiKey makes every call a no-op that
// returns an unknown verdict without making a network request.
func New(apiKey string, logger *slog.Logger) *Checker {
	return &Checker{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		apiKey:     apiKey,
		logger:     logger,
		rand:       rand.Float64,
		endpoint:   chatCompletionsURL,
	}
}

// ShouldRun decides whether a vision check is warranted for trustTier given
// the heuristic's currentConfidence.
func (c *Checker) ShouldRun(trustTier int, currentConfidence float64) bool {
	switch trustTier {
	case 1:
		return false
	case 3:
		return true
	case 2:
		if currentConfidence >= lowerConfidenceBound && currentConfidence < upperConfidenceBound {
			return true
		}
		return c.rand() < defaultSampleRate
	default:
		return c.rand() < defaultSampleRate
	}
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Check sends the image bytes to the vision model and classifies the
// response. trustTier >= 2 with both cardCtx fields present asks the model
// to flag a mismatched card via WRONG_CARD.
func (c *Checker) Check(ctx context.Context, data []byte, mimeType string, trustTier int, cardCtx CardContext) Result {
	if c.apiKey == "" {
		return unknownResult()
	}

	prompt := "You are classifying a trading card image. Reply with exactly one word: FRONT if this shows the front of a card, BACK if this shows the back of a card, or UNKNOWN if neither."
	if trustTier >= 2 && cardCtx.CardNumber != "" && cardCtx.SetCode != "" {
		prompt += fmt.Sprintf(" If the image does not match card number %s in set %s, reply WRONG_CARD instead.", cardCtx.CardNumber, cardCtx.SetCode)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	reqBody := chatRequest{
		Model: visionModel,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: fmt.Sprintf("data:%s;base64,%s", mimeType, encoded)}},
				},
			},
		},
		MaxTokens:   50,
		Temperature: 0,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		c.logger.Error("vision check encode request failed", "error", err)
		return unknownResult()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("vision check build request failed", "error", err)
		return unknownResult()
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("vision check request failed", "error", err)
		return unknownResult()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("vision check read response failed", "error", err)
		return unknownResult()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("vision check non-2xx response", "status", resp.StatusCode, "body", string(body))
		return unknownResult()
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		c.logger.Error("vision check parse failed", "error", err)
		return unknownResult()
	}

	verdict := strings.ToUpper(parsed.Choices[0].Message.Content)
	switch {
	case strings.Contains(verdict, "FRONT"):
		return Result{Side: SideFront, Confidence: 0.95, Method: "vision"}
	case strings.Contains(verdict, "BACK"):
		return Result{Side: SideBack, Confidence: 0.95, Method: "vision"}
	case strings.Contains(verdict, "WRONG_CARD"):
		return Result{Side: SideUnknown, Confidence: 0.3, Method: "vision"}
	default:
		return Result{Side: SideUnknown, Confidence: 0.5, Method: "vision"}
	}
}

// CheckSide adapts Check to the pipeline's plain-value VisionChecker
// interface, keeping the orchestrator free of a dependency on this
// package's Result/CardContext types.
func (c *Checker) CheckSide(ctx context.Context, data []byte, mimeType string, trustTier int, cardNumber, setCode string) (string, float64, string) {
	res := c.Check(ctx, data, mimeType, trustTier, CardContext{CardNumber: cardNumber, SetCode: setCode})
	return string(res.Side), res.Confidence, res.Method
}
