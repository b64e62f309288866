// internal/classify/resolver_test.go
package classify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"civiclens/internal/common/logger"

	"github.com/stretchr/testify/assert"
)

func TestCatalogResolver_PicksFirstServableModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[
			{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]},
			{"name":"models/gemini-pro-vision","supportedGenerationMethods":["countTokens"]},
			{"name":"models/gemini-2.0-flash","supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/gemini-1.5-pro","supportedGenerationMethods":["generateContent"]}
		]}`)
	}))
	defer server.Close()

	resolver := NewCatalogResolver(testConfig(server.URL), logger.NewTestLogger(t))

	model := resolver.Resolve(context.Background())

	assert.Equal(t, "gemini-2.0-flash", model)
}

func TestCatalogResolver_FallsBackToDefault(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "catalog returns 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "catalog body is not JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "not json")
			},
		},
		{
			name: "no model supports generateContent",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"models":[{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]}]}`)
			},
		},
		{
			name: "empty catalog",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"models":[]}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			resolver := NewCatalogResolver(testConfig(server.URL), logger.NewNoOpLogger())

			model := resolver.Resolve(context.Background())

			assert.Equal(t, "gemini-1.5-flash", model)
		})
	}
}

func TestCatalogResolver_UnreachableCatalog(t *testing.T) {
	config := testConfig("http://127.0.0.1:1")

	resolver := NewCatalogResolver(config, logger.NewNoOpLogger())

	model := resolver.Resolve(context.Background())

	assert.Equal(t, config.DefaultModel, model)
}

func TestCatalogResolver_SkipsNonGeminiModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[
			{"name":"models/text-bison","supportedGenerationMethods":["generateContent"]},
			{"name":"models/gemini-1.5-flash-latest","supportedGenerationMethods":["generateContent"]}
		]}`)
	}))
	defer server.Close()

	resolver := NewCatalogResolver(testConfig(server.URL), logger.NewTestLogger(t))

	assert.Equal(t, "gemini-1.5-flash-latest", resolver.Resolve(context.Background()))
}
