// internal/classify/client.go
package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	commonerrors "civiclens/internal/common/errors"
	httpclient "civiclens/internal/common/http"
	"civiclens/internal/common/logger"
	"civiclens/internal/common/metrics"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrClassificationUnavailable is returned for every failure mode of the
	// classifier. Callers recover by offering the department fallback table.
	ErrClassificationUnavailable = errors.New("CLASSIFICATION_UNAVAILABLE")

	// ErrContentFiltered marks the safety-policy decline variant; it always
	// also matches ErrClassificationUnavailable.
	ErrContentFiltered = errors.New("CONTENT_FILTERED")
)

const classificationPrompt = `You are an AI classifier for a civic issue reporting system. Analyze the following issue and determine:

1. CATEGORY: Choose ONE from: Infrastructure, Safety, Environment, Transportation, Public Services, Utilities, Parks & Recreation
2. DEPARTMENT: Choose the specific government department that should handle this (e.g., Public Works, Sanitation, Traffic Police, Electricity Board, Water Authority, Parks Department)
3. PRIORITY: Assess as low, medium, or high based on urgency and public safety impact
4. CONFIDENCE: Your confidence level (0-100%%)
5. REASONING: Brief explanation of your classification

Issue Description: "%s"

%s

Respond in this EXACT JSON format:
{
  "category": "category name",
  "department": "department name",
  "priority": "low/medium/high",
  "confidence": 85,
  "reasoning": "brief explanation"
}`

// resultSchema validates the parsed model output; fields failing validation
// are dropped and replaced by their documented defaults rather than failing
// the whole call.
var resultSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"category":   map[string]interface{}{"type": "string", "enum": Categories},
		"department": map[string]interface{}{"type": "string", "minLength": 1},
		"priority":   map[string]interface{}{"type": "string", "enum": Priorities},
		"confidence": map[string]interface{}{"type": "number"},
		"reasoning":  map[string]interface{}{"type": "string"},
	},
}

// Client turns a free-text issue description, optionally with an image, into
// a structured routing decision by calling the resolved inference endpoint.
type Client struct {
	config   *Config
	resolver ModelResolver
	client   *httpclient.Client
	logger   logger.Logger
}

func NewClient(config *Config, resolver ModelResolver, log logger.Logger) *Client {
	return &Client{
		config:   config,
		resolver: resolver,
		client:   httpclient.NewClient(config.Timeout),
		logger:   log.With(map[string]interface{}{"component": "classifier"}),
	}
}

// Gemini generateContent wire types.

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *inlineDataPart `json:"inline_data,omitempty"`
}

type inlineDataPart struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      generateContent `json:"content"`
		FinishReason string          `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Classify issues one inference call (plus one catalog lookup through the
// resolver) and returns a validated, defaulted routing decision. It never
// retries; the caller decides whether to retry the whole operation or fall
// back to DepartmentsFor.
func (c *Client) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	start := time.Now()

	result, err := c.classify(ctx, req)

	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassificationRequests.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	metrics.ClassificationRequests.WithLabelValues("success").Inc()

	return result, nil
}

func (c *Client) classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("description is required")
	}
	if c.config.APIKey == "" {
		stdErr := commonerrors.NewConfigurationMissingError("no inference API key configured")
		return nil, fmt.Errorf("%w: %s", ErrClassificationUnavailable, stdErr.Message)
	}

	imageNote := "No image provided."
	if len(req.ImageData) > 0 {
		imageNote = "An image is provided showing the issue."
	}
	prompt := fmt.Sprintf(classificationPrompt, req.Description, imageNote)

	parts := []generatePart{{Text: prompt}}
	if len(req.ImageData) > 0 {
		mimeType := req.ImageMIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, generatePart{
			InlineData: &inlineDataPart{
				MIMEType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(req.ImageData),
			},
		})
	}

	model := c.resolver.Resolve(ctx)

	body, _ := json.Marshal(generateRequest{Contents: []generateContent{{Parts: parts}}})
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.config.BaseURL, model, c.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		stdErr := commonerrors.NewTransportFailureError(err)
		c.logger.Error("inference call failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %s", ErrClassificationUnavailable, stdErr.Details)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: inference status %d", ErrClassificationUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}

	var genResp generateResponse
	if err := json.Unmarshal(raw, &genResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}

	if genResp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: %w: blocked (%s)", ErrClassificationUnavailable, ErrContentFiltered, genResp.PromptFeedback.BlockReason)
	}
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrClassificationUnavailable)
	}
	if genResp.Candidates[0].FinishReason == "SAFETY" {
		return nil, fmt.Errorf("%w: %w: candidate blocked", ErrClassificationUnavailable, ErrContentFiltered)
	}
	if len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty candidate", ErrClassificationUnavailable)
	}

	text := genResp.Candidates[0].Content.Parts[0].Text

	parsed, err := extractJSONObject(text)
	if err != nil {
		stdErr := commonerrors.NewMalformedResponseError(err.Error())
		return nil, fmt.Errorf("%w: %s", ErrClassificationUnavailable, stdErr.Details)
	}

	return validateResult(parsed), nil
}

// extractJSONObject pulls the first brace-delimited object out of the raw
// response text; models often wrap the JSON in prose or code fences.
func extractJSONObject(text string) (map[string]interface{}, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON object in response: %v", err)
	}
	return parsed, nil
}

// validateResult checks each parsed field against its domain and substitutes
// the documented default for anything absent or out of domain. A partially
// defaulted result is preferable to blocking issue submission.
func validateResult(parsed map[string]interface{}) *ClassificationResult {
	schemaLoader := gojsonschema.NewGoLoader(resultSchema)
	documentLoader := gojsonschema.NewGoLoader(parsed)

	if validation, err := gojsonschema.Validate(schemaLoader, documentLoader); err == nil && !validation.Valid() {
		for _, fieldErr := range validation.Errors() {
			delete(parsed, fieldErr.Field())
		}
	}

	result := &ClassificationResult{
		Category:   DefaultCategory,
		Department: DefaultDepartment,
		Priority:   DefaultPriority,
		Confidence: DefaultConfidence,
		Reasoning:  DefaultReasoning,
	}

	if v, ok := parsed["category"].(string); ok && v != "" {
		result.Category = v
	}
	if v, ok := parsed["department"].(string); ok && v != "" {
		result.Department = v
	}
	if v, ok := parsed["priority"].(string); ok && v != "" {
		result.Priority = v
	}
	if v, ok := parsed["confidence"].(float64); ok {
		confidence := int(v)
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}
		result.Confidence = confidence
	}
	if v, ok := parsed["reasoning"].(string); ok && v != "" {
		result.Reasoning = v
	}

	return result
}

func outcomeLabel(err error) string {
	if errors.Is(err, ErrContentFiltered) {
		return "content_filtered"
	}
	if errors.Is(err, ErrClassificationUnavailable) {
		return "unavailable"
	}
	return "invalid_request"
}
