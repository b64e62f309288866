// internal/classify/client_test.go
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civiclens/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Timeout:      5 * time.Second,
		DefaultModel: "gemini-1.5-flash",
	}
}

func candidateResponse(text string) string {
	payload := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestClassify_Success(t *testing.T) {
	tests := []struct {
		name         string
		responseText string
		validate     func(t *testing.T, result *ClassificationResult)
	}{
		{
			name: "clean JSON response",
			responseText: `{"category":"Infrastructure","department":"Roads & Highways","priority":"high","confidence":92,"reasoning":"pothole is a road hazard"}`,
			validate: func(t *testing.T, result *ClassificationResult) {
				assert.Equal(t, "Infrastructure", result.Category)
				assert.Equal(t, "Roads & Highways", result.Department)
				assert.Equal(t, "high", result.Priority)
				assert.Equal(t, 92, result.Confidence)
			},
		},
		{
			name: "JSON wrapped in code fences",
			responseText: "Here is the classification:\n```json\n" +
				`{"category":"Safety","department":"Police Department","priority":"medium","confidence":80,"reasoning":"reported hazard"}` +
				"\n```\nLet me know if you need anything else.",
			validate: func(t *testing.T, result *ClassificationResult) {
				assert.Equal(t, "Safety", result.Category)
				assert.Equal(t, "Police Department", result.Department)
			},
		},
		{
			name:         "missing fields get defaults",
			responseText: `{"category":"Utilities"}`,
			validate: func(t *testing.T, result *ClassificationResult) {
				assert.Equal(t, "Utilities", result.Category)
				assert.Equal(t, DefaultDepartment, result.Department)
				assert.Equal(t, DefaultPriority, result.Priority)
				assert.Equal(t, DefaultConfidence, result.Confidence)
				assert.Equal(t, DefaultReasoning, result.Reasoning)
			},
		},
		{
			name:         "out-of-domain priority is defaulted",
			responseText: `{"category":"Environment","department":"Waste Management","priority":"urgent","confidence":70,"reasoning":"overflowing bins"}`,
			validate: func(t *testing.T, result *ClassificationResult) {
				assert.Equal(t, DefaultPriority, result.Priority)
				assert.Contains(t, Priorities, result.Priority)
			},
		},
		{
			name:         "out-of-domain category is defaulted",
			responseText: `{"category":"Weather","department":"Public Works","priority":"low","confidence":60,"reasoning":"unclear"}`,
			validate: func(t *testing.T, result *ClassificationResult) {
				assert.Equal(t, DefaultCategory, result.Category)
				assert.Contains(t, Categories, result.Category)
			},
		},
		{
			name:         "confidence clamped to 0-100",
			responseText: `{"category":"Safety","department":"Fire Department","priority":"high","confidence":250,"reasoning":"fire hazard"}`,
			validate: func(t *testing.T, result *ClassificationResult) {
				assert.Equal(t, 100, result.Confidence)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, candidateResponse(tt.responseText))
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewTestLogger(t))

			result, err := client.Classify(context.Background(), ClassificationRequest{
				Description: "large pothole on Main St, car almost flipped",
			})

			require.NoError(t, err)
			require.NotNil(t, result)
			assert.GreaterOrEqual(t, result.Confidence, 0)
			assert.LessOrEqual(t, result.Confidence, 100)
			tt.validate(t, result)
		})
	}
}

func TestClassify_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "HTTP 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "no JSON object in response text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, candidateResponse("I cannot classify this issue."))
			},
		},
		{
			name: "empty candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"candidates":[]}`)
			},
		},
		{
			name: "invalid JSON between braces",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, candidateResponse(`{"category": "Infrastructure", broken}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(testConfig(server.URL), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewNoOpLogger())

			result, err := client.Classify(context.Background(), ClassificationRequest{Description: "broken streetlight"})

			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrClassificationUnavailable)
		})
	}
}

func TestClassify_FallbackAfterServerError(t *testing.T) {
	// Scenario: inference returns 500, the UI recovers with the department table.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewNoOpLogger())

	_, err := client.Classify(context.Background(), ClassificationRequest{Description: "large pothole on Main St"})
	require.ErrorIs(t, err, ErrClassificationUnavailable)

	departments := DepartmentsFor("Infrastructure")
	assert.Equal(t, []string{"Public Works", "Roads & Highways", "Building Department", "Engineering"}, departments)
}

func TestClassify_ContentFiltered(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "prompt feedback block",
			body: `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`,
		},
		{
			name: "candidate finish reason safety",
			body: `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewNoOpLogger())

			_, err := client.Classify(context.Background(), ClassificationRequest{Description: "something"})

			assert.ErrorIs(t, err, ErrContentFiltered)
			assert.ErrorIs(t, err, ErrClassificationUnavailable)
		})
	}
}

func TestClassify_NoAPIKey(t *testing.T) {
	config := testConfig("http://unused")
	config.APIKey = ""

	client := NewClient(config, StaticResolver{Model: "gemini-1.5-flash"}, logger.NewNoOpLogger())

	_, err := client.Classify(context.Background(), ClassificationRequest{Description: "pothole"})

	assert.ErrorIs(t, err, ErrClassificationUnavailable)
}

func TestClassify_EmptyDescription(t *testing.T) {
	client := NewClient(testConfig("http://unused"), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewNoOpLogger())

	_, err := client.Classify(context.Background(), ClassificationRequest{Description: "   "})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrClassificationUnavailable)
}

func TestClassify_ImageAttachedAsInlineData(t *testing.T) {
	var captured generateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		fmt.Fprint(w, candidateResponse(`{"category":"Infrastructure","department":"Public Works","priority":"medium","confidence":75,"reasoning":"visible damage"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewTestLogger(t))

	_, err := client.Classify(context.Background(), ClassificationRequest{
		Description:   "cracked sidewalk",
		ImageData:     []byte{0xFF, 0xD8, 0xFF},
		ImageMIMEType: "image/jpeg",
	})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 1)
	require.Len(t, captured.Contents[0].Parts, 2)
	assert.NotEmpty(t, captured.Contents[0].Parts[0].Text)
	require.NotNil(t, captured.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/jpeg", captured.Contents[0].Parts[1].InlineData.MIMEType)
	assert.NotEmpty(t, captured.Contents[0].Parts[1].InlineData.Data)
}

func TestClassify_TextOnlyHasSinglePart(t *testing.T) {
	var captured generateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		fmt.Fprint(w, candidateResponse(`{"category":"Safety","department":"Police Department","priority":"high","confidence":88,"reasoning":"public hazard"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), StaticResolver{Model: "gemini-1.5-flash"}, logger.NewTestLogger(t))

	result, err := client.Classify(context.Background(), ClassificationRequest{
		Description: "large pothole on Main St, car almost flipped",
	})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 1)
	assert.Len(t, captured.Contents[0].Parts, 1)

	// End-to-end scenario: plausible category and priority with bounded confidence.
	assert.Contains(t, Categories, result.Category)
	assert.Contains(t, Priorities, result.Priority)
}
