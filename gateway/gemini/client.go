// Package gemini implements coconut.Gateway against the Gemini generateContent
// REST endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultHTTPTimeout = 120 * time.Second

	DefaultImageModel         = "gemini-2.5-flash-image"
	DefaultElevatedImageModel = "gemini-3-pro-image-preview"
	DefaultNutritionModel     = "gemini-3-flash-preview"
	DefaultAnalysisModel      = "gemini-3-pro-preview"
	DefaultThinkingBudget     = 16384
)

// Config captures the runtime settings required to talk to Gemini.
type Config struct {
	APIKey             string
	BaseURL            string
	ImageModel         string
	ElevatedImageModel string
	NutritionModel     string
	AnalysisModel      string
	ThinkingBudget     int
	TimeoutSeconds     int
}

// Client talks to the Gemini API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tier       coconut.AccessTier
}

var _ coconut.Gateway = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTier sets the access tier that selects the image model. When the tier
// also exposes a credential (coconut.CredentialTier), that key is used instead
// of Config.APIKey while it is set.
func WithTier(tier coconut.AccessTier) Option {
	return func(c *Client) {
		if tier != nil {
			c.tier = tier
		}
	}
}

// NewClient constructs a Gemini client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.ElevatedImageModel == "" {
		cfg.ElevatedImageModel = DefaultElevatedImageModel
	}
	if cfg.NutritionModel == "" {
		cfg.NutritionModel = DefaultNutritionModel
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	if cfg.ThinkingBudget <= 0 {
		cfg.ThinkingBudget = DefaultThinkingBudget
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tier:       coconut.StaticTier(false),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// APIError is a non-2xx answer from the provider. Its message carries the HTTP
// code and the provider status (for example "429 RESOURCE_EXHAUSTED") so quota
// exhaustion is recognisable from the text alone.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gemini: %d", e.StatusCode)
	if e.Status != "" {
		msg += " " + e.Status
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// EstimateNutrition asks for per-portion kcal/protein/carbs/fat as JSON.
func (c *Client) EstimateNutrition(ctx context.Context, title string, ingredients []string) (coconut.Nutrition, error) {
	var out coconut.Nutrition
	title = strings.TrimSpace(title)
	if title == "" {
		return out, errors.New("gemini nutrition: title required")
	}

	prompt := fmt.Sprintf(
		"Завдання: Оціни харчову цінність (Ккал, Білки, Вуглеводи, Жири) для рецепту: %s. Інгредієнти: %s. Розрахунок на одну порцію. Поверни лише JSON.",
		title, strings.Join(ingredients, ", "))

	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   nutritionSchema,
		},
	}
	resp, err := c.generate(ctx, c.cfg.NutritionModel, req)
	if err != nil {
		return out, err
	}
	text := resp.text()
	if text == "" {
		return out, errors.New("gemini nutrition: empty response")
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return coconut.Nutrition{}, fmt.Errorf("gemini nutrition: decode payload: %w", err)
	}
	return out, nil
}

// GenerateImage renders a square food photograph of the dish. The model
// depends on the access tier at call time.
func (c *Client) GenerateImage(ctx context.Context, title string) (coconut.ImageAsset, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.New("gemini image: title required")
	}

	model := c.cfg.ImageModel
	if c.tier.Elevated(ctx) {
		model = c.cfg.ElevatedImageModel
	}

	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: imagePrompt(title)}}}},
		GenerationConfig: &generationConfig{
			ImageConfig: &imageConfig{AspectRatio: "1:1", ImageSize: "1K"},
		},
	}
	resp, err := c.generate(ctx, model, req)
	if err != nil {
		return "", err
	}
	data := resp.inlineData()
	if data == "" {
		return "", coconut.ErrNoImageData
	}
	return coconut.PNGDataURI(data), nil
}

// AnalyzeMealPhoto classifies a meal photo. Answers are in Ukrainian.
func (c *Client) AnalyzeMealPhoto(ctx context.Context, image []byte) (*coconut.PhotoAnalysis, error) {
	if len(image) == 0 {
		return nil, coconut.ErrInvalidImage
	}

	req := generateRequest{
		Contents: []content{{Parts: []part{
			{InlineData: &blob{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
			{Text: "Analyze this meal photo and provide details in Ukrainian. Format as JSON. Be precise about calories and portions."},
		}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   analysisSchema,
			ThinkingConfig:   &thinkingConfig{ThinkingBudget: c.cfg.ThinkingBudget},
		},
	}
	resp, err := c.generate(ctx, c.cfg.AnalysisModel, req)
	if err != nil {
		return nil, err
	}
	text := resp.text()
	if text == "" {
		return nil, errors.New("gemini analysis: empty response")
	}
	var out coconut.PhotoAnalysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("gemini analysis: decode payload: %w", err)
	}
	return &out, nil
}

func imagePrompt(title string) string {
	return fmt.Sprintf(`A hyper-realistic, high-fidelity professional food photograph of %q.
The dish is elegantly plated on artisan ceramic dinnerware.
Authentic food textures, natural soft daylight from a side window,
shallow depth of field with a blurred background.
Gourmet styling, macro details, vibrant but natural colors.
NO text, NO watermarks, NO artificial filters.`, title)
}

func (c *Client) apiKey() string {
	if keyed, ok := c.tier.(interface{ Key() string }); ok {
		if key := strings.TrimSpace(keyed.Key()); key != "" {
			return key
		}
	}
	return c.cfg.APIKey
}

func (c *Client) generate(ctx context.Context, model string, payload generateRequest) (*generateResponse, error) {
	key := c.apiKey()
	if key == "" {
		return nil, errors.New("gemini request: api key required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "models", model+":generateContent")
	if err != nil {
		return nil, fmt.Errorf("gemini request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("gemini request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini request: read body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("gemini request: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, &APIError{StatusCode: out.Error.Code, Status: out.Error.Status, Message: out.Error.Message}
	}
	return &out, nil
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	var envelope struct {
		Error *errorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		apiErr.Status = envelope.Error.Status
		apiErr.Message = envelope.Error.Message
		return apiErr
	}
	apiErr.Status = strings.ToUpper(strings.ReplaceAll(http.StatusText(statusCode), " ", "_"))
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
