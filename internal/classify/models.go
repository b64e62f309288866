// internal/classify/models.go
package classify

// ClassificationRequest carries one issue submission into the classifier.
// Constructed per call and never mutated.
type ClassificationRequest struct {
	Description   string
	ImageData     []byte
	ImageMIMEType string
}

// ClassificationResult is the routing decision attached to an issue.
type ClassificationResult struct {
	Category   string `json:"category"`
	Department string `json:"department"`
	Priority   string `json:"priority"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Categories is the closed category enum the model is constrained to.
var Categories = []string{
	"Infrastructure",
	"Safety",
	"Environment",
	"Transportation",
	"Public Services",
	"Utilities",
	"Parks & Recreation",
}

// Priorities is the closed priority enum.
var Priorities = []string{"low", "medium", "high"}

// Defaults substituted for fields absent or out of domain after parsing.
const (
	DefaultCategory   = "Infrastructure"
	DefaultDepartment = "Public Works"
	DefaultPriority   = "medium"
	DefaultConfidence = 75
	DefaultReasoning  = "Classified based on description and image analysis"
)
