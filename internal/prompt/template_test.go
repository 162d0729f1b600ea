package prompt

import (
	"strings"
	"testing"

	"relevance-service/internal/models"

	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultTemplate))
	require.Equal(t, DefaultTemplate, OrDefault("  "))
	require.Equal(t, "x", OrDefault("x"))
}

func TestValidateRejectsUnknownPlaceholder(t *testing.T) {
	err := Validate("{TOPIC} {AUTHORS}")
	require.Error(t, err)
	require.Contains(t, err.Error(), "{AUTHORS}")
}

func TestBuildFillsAllPlaceholders(t *testing.T) {
	rec := models.NewRecord([]string{"title", "abstract"}, map[string]string{
		"title":    "Deep learning diagnostics",
		"abstract": "A CNN for radiology",
	})
	out := Build("", "Machine Learning in Healthcare", rec, models.ColumnMapping{})
	require.Contains(t, out, "TOPIC: Machine Learning in Healthcare")
	require.Contains(t, out, "PAPER TITLE: Deep learning diagnostics")
	require.Contains(t, out, "KEYWORDS: \n")
	require.False(t, strings.Contains(out, "{"))
}
