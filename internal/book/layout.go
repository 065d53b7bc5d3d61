package book

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// UnitSizing bounds how a chapter's word target is split into units.
type UnitSizing struct {
	IdealUnitWords     int
	MinUnitsPerChapter int
	MaxUnitsPerChapter int
	MinUnitWords       int
	MaxUnitWords       int
}

// DefaultUnitSizing returns the standard unit bounds.
func DefaultUnitSizing() UnitSizing {
	return UnitSizing{
		IdealUnitWords:     1000,
		MinUnitsPerChapter: 1,
		MaxUnitsPerChapter: 5,
		MinUnitWords:       400,
		MaxUnitWords:       2000,
	}
}

// Positional weight applied to a chapter's share of the book total. The
// apportionment re-normalizes, so only the ratios matter.
const (
	openingWeight     = 1.10
	developmentWeight = 1.00
	climaxWeight      = 1.15
	resolutionWeight  = 1.05
)

// ChapterKindFor classifies a chapter by position: the first chapter opens,
// the last resolves, chapters falling in the 70-90% stretch carry the
// climax. Books under three chapters are treated as flat development.
func ChapterKindFor(number, total int) ChapterKind {
	if total < 3 {
		return KindDevelopment
	}
	switch {
	case number == 1:
		return KindOpening
	case number == total:
		return KindResolution
	default:
		p := float64(number) / float64(total)
		if p > 0.70 && p <= 0.90 {
			return KindClimax
		}
		return KindDevelopment
	}
}

func weightFor(kind ChapterKind) float64 {
	switch kind {
	case KindOpening:
		return openingWeight
	case KindClimax:
		return climaxWeight
	case KindResolution:
		return resolutionWeight
	default:
		return developmentWeight
	}
}

// ApportionWords splits a book's total word target across chapters using
// the positional weights, then corrects rounding by largest remainder so
// the targets sum exactly to the total.
func ApportionWords(totalWords, chapters int) ([]int, error) {
	if chapters <= 0 {
		return nil, fmt.Errorf("apportion words: chapter count must be positive, got %d", chapters)
	}
	if totalWords < chapters {
		return nil, fmt.Errorf("apportion words: %d words cannot cover %d chapters", totalWords, chapters)
	}

	weights := make([]float64, chapters)
	var weightSum float64
	for i := range weights {
		weights[i] = weightFor(ChapterKindFor(i+1, chapters))
		weightSum += weights[i]
	}

	targets := make([]int, chapters)
	fractions := make([]float64, chapters)
	assigned := 0
	for i, w := range weights {
		exact := float64(totalWords) * w / weightSum
		targets[i] = int(math.Floor(exact))
		fractions[i] = exact - math.Floor(exact)
		assigned += targets[i]
	}

	// Hand the rounding remainder to the chapters with the largest
	// fractional shares, earlier chapters breaking ties.
	order := make([]int, chapters)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]] > fractions[order[b]]
	})
	for i := 0; i < totalWords-assigned; i++ {
		targets[order[i]]++
	}
	return targets, nil
}

// PlanUnits splits one chapter's word target into unit plans. The unit
// count follows the ideal unit length, clamped to the per-chapter count
// bounds, then nudged so per-unit words stay inside the sizing band where
// the count bounds allow. Unit targets sum exactly to the chapter target.
func PlanUnits(chapterTarget int, sizing UnitSizing) ([]UnitPlan, error) {
	if chapterTarget <= 0 {
		return nil, fmt.Errorf("plan units: chapter target must be positive, got %d", chapterTarget)
	}
	if sizing.IdealUnitWords <= 0 {
		return nil, fmt.Errorf("plan units: ideal unit words must be positive, got %d", sizing.IdealUnitWords)
	}

	minUnits := sizing.MinUnitsPerChapter
	if minUnits < 1 {
		minUnits = 1
	}
	maxUnits := sizing.MaxUnitsPerChapter
	if maxUnits < minUnits {
		maxUnits = minUnits
	}

	count := int(math.Round(float64(chapterTarget) / float64(sizing.IdealUnitWords)))
	if count < minUnits {
		count = minUnits
	}
	if count > maxUnits {
		count = maxUnits
	}
	for count < maxUnits && sizing.MaxUnitWords > 0 && chapterTarget/count > sizing.MaxUnitWords {
		count++
	}
	for count > minUnits && sizing.MinUnitWords > 0 && chapterTarget/count < sizing.MinUnitWords {
		count--
	}

	base := chapterTarget / count
	remainder := chapterTarget % count
	units := make([]UnitPlan, count)
	for i := range units {
		words := base
		if i < remainder {
			words++
		}
		units[i] = UnitPlan{Number: i + 1, TargetWords: words}
	}
	return units, nil
}

// OptimalChapterCount derives a chapter count from the total target when
// the caller did not fix one. Bounded for story structure on the low end
// and readability on the high end.
func OptimalChapterCount(totalWords, idealChapterWords int) int {
	if idealChapterWords <= 0 {
		idealChapterWords = 3000
	}
	chapters := totalWords / idealChapterWords
	if chapters < 5 {
		return 5
	}
	if chapters > 30 {
		return 30
	}
	return chapters
}

// CountWords counts whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// EstimateReadingTime estimates reading time in minutes at an average
// reading speed.
func EstimateReadingTime(wordCount int) int {
	return wordCount / 225
}
