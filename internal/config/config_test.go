package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, DefaultThreshold, s.Threshold)
	assert.True(t, s.AutoSummarize)
	assert.False(t, s.SearchEnabled)
	assert.Equal(t, "default", s.RoleID)
	assert.Equal(t, DefaultModel, s.Model)
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(MinThreshold))
	assert.NoError(t, ValidateThreshold(MaxThreshold))
	assert.NoError(t, ValidateThreshold(10))
	assert.Error(t, ValidateThreshold(MinThreshold-1))
	assert.Error(t, ValidateThreshold(MaxThreshold+1))
	assert.Error(t, ValidateThreshold(0))
	assert.Error(t, ValidateThreshold(-3))
}

func TestValidAPIKeyFormat(t *testing.T) {
	assert.True(t, ValidAPIKeyFormat("sk-or-v1-abcdef"))
	assert.False(t, ValidAPIKeyFormat("sk-proj-abcdef"))
	assert.False(t, ValidAPIKeyFormat(""))
}
