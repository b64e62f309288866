// internal/classify/fallback.go
package classify

// departmentsByCategory maps each category to its candidate departments,
// ordered by routing preference. Used when inference is unavailable or the
// user overrides the suggestion, so the routing UI is never empty.
var departmentsByCategory = map[string][]string{
	"Infrastructure":     {"Public Works", "Roads & Highways", "Building Department", "Engineering"},
	"Safety":             {"Police Department", "Fire Department", "Traffic Police", "Emergency Services"},
	"Environment":        {"Sanitation Department", "Environmental Health", "Waste Management", "Pollution Control"},
	"Transportation":     {"Transport Department", "Traffic Management", "Public Transit Authority", "Parking Authority"},
	"Public Services":    {"Municipal Corporation", "Citizen Services", "Health Department", "Social Welfare"},
	"Utilities":          {"Electricity Board", "Water Authority", "Gas Department", "Telecom Services"},
	"Parks & Recreation": {"Parks Department", "Sports Authority", "Community Services", "Horticulture"},
}

// DepartmentsFor returns the candidate departments for a category. Pure and
// total: unrecognized categories get a generic default rather than an error.
// The returned slice is a copy so callers cannot mutate the table.
func DepartmentsFor(category string) []string {
	departments, ok := departmentsByCategory[category]
	if !ok {
		return []string{DefaultDepartment}
	}
	out := make([]string, len(departments))
	copy(out, departments)
	return out
}
