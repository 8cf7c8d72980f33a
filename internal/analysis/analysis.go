// Package analysis rates abuse reports. A report's category decides how much
// it adds to the reported user's score.
package analysis

import (
	"sort"

	"pairchat/backend/internal/config"
)

// GetWeight returns the score added by a report of the given category.
// It returns 0 if the category is not recognized.
func GetWeight(category string) int {
	return config.ReportWeights[category]
}

// ValidCategory reports whether category is one of the configured ones.
func ValidCategory(category string) bool {
	_, ok := config.ReportWeights[category]
	return ok
}

// Categories lists the report categories from least to most severe.
func Categories() []string {
	out := make([]string, 0, len(config.ReportWeights))
	for c := range config.ReportWeights {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return config.ReportWeights[out[i]] < config.ReportWeights[out[j]]
	})
	return out
}
