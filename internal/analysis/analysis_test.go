package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pairchat/backend/internal/analysis"
)

func TestGetWeight(t *testing.T) {
	assert.Equal(t, 5, analysis.GetWeight("Low"))
	assert.Equal(t, 50, analysis.GetWeight("Medium"))
	assert.Equal(t, 250, analysis.GetWeight("Critical"))
	assert.Equal(t, 0, analysis.GetWeight("Unknown"))
}

func TestCategories(t *testing.T) {
	assert.Equal(t, []string{"Low", "Medium", "Critical"}, analysis.Categories())
	assert.True(t, analysis.ValidCategory("Medium"))
	assert.False(t, analysis.ValidCategory("medium"))
}
