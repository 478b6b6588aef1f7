package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hunt-concierge/utils"
)

// AcceptConfidence is the minimum confidence for an accepted submission.
const AcceptConfidence = 60

const defaultConfidence = 50

// Classifier answers a validation instruction about one image in free text.
type Classifier interface {
	Classify(ctx context.Context, instruction, imageDataURI string) (string, error)
}

// VisionClassifier talks to an OpenAI-compatible chat-completions endpoint.
type VisionClassifier struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	client    *http.Client
}

func NewVisionClassifier(baseURL, apiKey, model string, maxTokens int, timeout time.Duration) *VisionClassifier {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &VisionClassifier{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: maxTokens,
		client:    utils.NewHTTPClient(timeout),
	}
}

type chatContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL map[string]string `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

func (c *VisionClassifier) Classify(ctx context.Context, instruction, imageDataURI string) (string, error) {
	body := map[string]any{
		"model":      c.Model,
		"max_tokens": c.MaxTokens,
		"messages": []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: map[string]string{"url": imageDataURI}},
			},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("vision status %d: %s", resp.StatusCode, data)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return result.Choices[0].Message.Content, nil
}

// BuildInstruction wraps a task's validation prompt with the answer format
// the verdict parser expects.
func BuildInstruction(validationPrompt string) string {
	return strings.TrimSpace(validationPrompt) +
		"\n\nAnswer YES or NO first, then give your confidence as a percentage (for example 85%), then one short sentence explaining why."
}

// Verdict is the parsed classifier answer.
type Verdict struct {
	Positive   bool   `json:"positive"`
	Confidence int    `json:"confidence"`
	Raw        string `json:"raw"`
}

var confidencePattern = regexp.MustCompile(`(\d+)%`)

// ParseVerdict reads a free-text answer. Positive iff "YES" appears in any
// case; confidence is the first integer directly followed by "%", else 50.
func ParseVerdict(text string) Verdict {
	v := Verdict{
		Positive:   strings.Contains(strings.ToUpper(text), "YES"),
		Confidence: defaultConfidence,
		Raw:        strings.TrimSpace(text),
	}
	if m := confidencePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			v.Confidence = n
		}
	}
	return v
}

// Accepted applies the decision rule.
func (v Verdict) Accepted() bool {
	return v.Positive && v.Confidence >= AcceptConfidence
}

// Reason maps a rejected verdict to its failure kind.
func (v Verdict) Reason() error {
	switch {
	case v.Accepted():
		return nil
	case !v.Positive:
		return ErrNegativeVerdict
	default:
		return ErrLowConfidence
	}
}
