package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
	"github.com/zwehtet-dev/exchange-bot/src/utils"
)

const receiptPrompt = `Extract the following fields from this bank transfer receipt image and respond with JSON only:
{"amount": number or null, "sender_bank": string or null, "receiver_bank": string or null, "sender_name": string or null, "receiver_name": string or null, "status": string or null, "reference": string or null}
Use null for any field not visible on the receipt. Do not include any text outside the JSON object.`

// NewOCRService returns the configured recognition provider. Without an API
// key the mock provider is used, which is only suitable for development.
func NewOCRService(cfg *config.AppConfig) OCRService {
	if cfg.OpenAIAPIKey == "" {
		logger.L.Warn("OPENAI_API_KEY not set. Falling back to MockOCRService.")
		return &MockOCRService{}
	}
	logger.L.Info("Initializing OCR service", "provider", "openai", "model", cfg.OpenAIModel)
	return &OpenAIOCRService{
		apiKey: cfg.OpenAIAPIKey,
		model:  cfg.OpenAIModel,
		client: &http.Client{Timeout: 60 * time.Second},
		retry: utils.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  2,
		},
	}
}

// OpenAIOCRService extracts receipt fields with a vision-capable chat model.
type OpenAIOCRService struct {
	apiKey string
	model  string
	client *http.Client
	retry  utils.RetryPolicy
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
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

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *OpenAIOCRService) ExtractReceiptInfo(ctx context.Context, image []byte) (*models.ReceiptInfo, error) {
	var info *models.ReceiptInfo
	err := s.retry.Do(ctx, "ocr_extract", func() error {
		var err error
		info, err = s.extractOnce(ctx, image)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetryExhausted, err)
	}
	return info, nil
}

func (s *OpenAIOCRService) extractOnce(ctx context.Context, image []byte) (*models.ReceiptInfo, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	reqBody := chatRequest{
		Model:     s.model,
		MaxTokens: 500,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: receiptPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + encoded}},
			},
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling OCR provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading OCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR provider returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("decoding OCR response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("OCR provider error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("OCR provider returned no choices")
	}
	return parseReceiptJSON(cr.Choices[0].Message.Content)
}

// parseReceiptJSON decodes the model output, tolerating markdown code fences
// around the JSON object.
func parseReceiptJSON(content string) (*models.ReceiptInfo, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	var info models.ReceiptInfo
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return nil, fmt.Errorf("parsing receipt JSON: %w", err)
	}
	return &info, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MockOCRService returns an empty extraction; every field is nil so the
// workflow falls through to manual amount entry.
type MockOCRService struct{}

func (m *MockOCRService) ExtractReceiptInfo(ctx context.Context, image []byte) (*models.ReceiptInfo, error) {
	logger.L.Info("MockOCRService: returning empty receipt info", "imageBytes", len(image))
	return &models.ReceiptInfo{}, nil
}
