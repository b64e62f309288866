// internal/classify/resolver.go
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	httpclient "civiclens/internal/common/http"
	"civiclens/internal/common/logger"
)

// ModelResolver selects the model identifier used for one classification
// call. Upstream identifiers rotate over time, so the resolver is consulted
// on every call instead of hard-coding a name that may be retired.
type ModelResolver interface {
	Resolve(ctx context.Context) string
}

// CatalogResolver discovers servable models from the upstream catalog and
// picks the first one declaring generateContent support. Catalog failures
// degrade to the configured last-known-good identifier so the classification
// caller never fails on discovery alone.
type CatalogResolver struct {
	config *Config
	client *httpclient.Client
	logger logger.Logger
}

func NewCatalogResolver(config *Config, log logger.Logger) *CatalogResolver {
	return &CatalogResolver{
		config: config,
		client: httpclient.NewClient(config.Timeout),
		logger: log.With(map[string]interface{}{"component": "model-resolver"}),
	}
}

type modelCatalogEntry struct {
	Name                       string   `json:"name"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type modelCatalogResponse struct {
	Models []modelCatalogEntry `json:"models"`
}

// Resolve performs a single catalog lookup, no retries, no cross-call cache.
func (r *CatalogResolver) Resolve(ctx context.Context) string {
	url := fmt.Sprintf("%s/v1beta/models?key=%s", r.config.BaseURL, r.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return r.fallback(err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.fallback(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return r.fallback(fmt.Errorf("catalog status %d", resp.StatusCode))
	}

	var catalog modelCatalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return r.fallback(err)
	}

	for _, m := range catalog.Models {
		if !strings.Contains(m.Name, "gemini") {
			continue
		}
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				return strings.TrimPrefix(m.Name, "models/")
			}
		}
	}

	return r.fallback(fmt.Errorf("no servable model in catalog"))
}

func (r *CatalogResolver) fallback(err error) string {
	r.logger.Warn("model catalog lookup failed, using default", map[string]interface{}{
		"error":        err.Error(),
		"defaultModel": r.config.DefaultModel,
	})
	return r.config.DefaultModel
}

// StaticResolver returns a fixed identifier. Used in tests and anywhere
// catalog discovery is undesirable.
type StaticResolver struct {
	Model string
}

func (s StaticResolver) Resolve(_ context.Context) string {
	return s.Model
}
