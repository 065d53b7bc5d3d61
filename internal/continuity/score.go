package continuity

import "math"

// IssueType categorizes a consistency issue.
type IssueType string

const (
	IssueCharacter     IssueType = "character"
	IssueTimeline      IssueType = "timeline"
	IssueWorldbuilding IssueType = "worldbuilding"
	IssueResearch      IssueType = "research"
	IssuePlot          IssueType = "plot"
	IssueRelationship  IssueType = "relationship"
)

// AllIssueTypes lists the canonical categories in reporting order.
var AllIssueTypes = []IssueType{
	IssueCharacter,
	IssueTimeline,
	IssueWorldbuilding,
	IssueResearch,
	IssuePlot,
	IssueRelationship,
}

// Severity ranks how badly an issue breaks continuity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// ConsistencyIssue is one problem found by a category check. Issues are
// ephemeral: they live in the report for the unit that produced them.
type ConsistencyIssue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion,omitempty"`
	Chapters    []int     `json:"chapters,omitempty"`
}

// ConsistencyReport aggregates one unit check.
type ConsistencyReport struct {
	OverallScore    float64               `json:"overall_score"`
	CategoryScores  map[IssueType]float64 `json:"category_scores"`
	Issues          []ConsistencyIssue    `json:"issues,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
}

// Timeline contradictions break a book hardest; relationship drift is the
// most recoverable.
var categoryWeights = map[IssueType]float64{
	IssueTimeline:      3.0,
	IssueCharacter:     2.5,
	IssuePlot:          2.0,
	IssueResearch:      1.8,
	IssueWorldbuilding: 1.5,
	IssueRelationship:  1.0,
}

var severityPoints = map[Severity]float64{
	SeverityCritical: 30,
	SeverityMajor:    12,
	SeverityMinor:    4,
}

// normalizeLength is the content length at which deductions apply at face
// value; longer content is forgiven proportionally.
const normalizeLength = 5000.0

func weightFor(t IssueType) float64 {
	if w, ok := categoryWeights[t]; ok {
		return w
	}
	return 1.0
}

func pointsFor(sev Severity) float64 {
	if p, ok := severityPoints[sev]; ok {
		return p
	}
	return severityPoints[SeverityMinor]
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}

// Score computes the overall consistency score and per-category scores for
// one unit's issues. contentLength is the length in bytes of the content
// that was checked.
func Score(issues []ConsistencyIssue, contentLength int) (float64, map[IssueType]float64) {
	norm := math.Max(1, float64(contentLength)/normalizeLength)

	deductions := make(map[IssueType]float64)
	var total float64
	for _, issue := range issues {
		d := weightFor(issue.Type) * pointsFor(issue.Severity)
		total += d
		deductions[issue.Type] += d
	}

	scores := make(map[IssueType]float64, len(AllIssueTypes))
	for _, t := range AllIssueTypes {
		scores[t] = clampScore(100 - deductions[t]/norm)
	}
	for t, d := range deductions {
		if _, ok := scores[t]; !ok {
			scores[t] = clampScore(100 - d/norm)
		}
	}
	return clampScore(100 - total/norm), scores
}

// Recommendations collects suggestions from critical and major issues,
// deduplicated, in issue order.
func Recommendations(issues []ConsistencyIssue) []string {
	var recs []string
	seen := make(map[string]bool)
	for _, issue := range issues {
		if issue.Severity == SeverityMinor || issue.Suggestion == "" {
			continue
		}
		if seen[issue.Suggestion] {
			continue
		}
		seen[issue.Suggestion] = true
		recs = append(recs, issue.Suggestion)
	}
	return recs
}

// BuildReport scores the issue list and assembles the full report.
func BuildReport(issues []ConsistencyIssue, contentLength int) *ConsistencyReport {
	overall, perCategory := Score(issues, contentLength)
	return &ConsistencyReport{
		OverallScore:    overall,
		CategoryScores:  perCategory,
		Issues:          issues,
		Recommendations: Recommendations(issues),
	}
}
