package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenciapixel/connectflow/pkg/models"
)

func TestSplitBranchIsDeterministicPerContact(t *testing.T) {
	config := &models.SplitConfig{
		SplitType: models.SplitTypePercentage,
		Weights:   map[string]int{"variant_a": 70, "variant_b": 30},
	}
	branches := map[string]string{"variant_a": "step-a", "variant_b": "step-b"}

	first := splitBranch(config, branches, "contact-42", "flow-v3")
	require.Contains(t, []string{"variant_a", "variant_b"}, first)

	for i := 0; i < 100; i++ {
		assert.Equal(t, first, splitBranch(config, branches, "contact-42", "flow-v3"))
	}
}

func TestSplitBranchCoversAllBranches(t *testing.T) {
	config := &models.SplitConfig{SplitType: models.SplitTypeRandom}
	branches := map[string]string{"a": "s1", "b": "s2", "c": "s3"}

	seen := make(map[string]int)

	for i := 0; i < 300; i++ {
		branch := splitBranch(config, branches, fmt.Sprintf("contact-%d", i), "flow-v1")
		require.Contains(t, branches, branch)
		seen[branch]++
	}

	assert.Len(t, seen, 3, "every branch should receive some contacts")
}

func TestSplitBranchVariesWithFlowVersion(t *testing.T) {
	config := &models.SplitConfig{SplitType: models.SplitTypeRandom}
	branches := map[string]string{"a": "s1", "b": "s2"}

	differs := false

	for i := 0; i < 50; i++ {
		contact := fmt.Sprintf("contact-%d", i)
		if splitBranch(config, branches, contact, "flow-v1") != splitBranch(config, branches, contact, "flow-v2") {
			differs = true

			break
		}
	}

	assert.True(t, differs, "assignment should be salted by flow version")
}

func TestSplitBranchTreatsNonPositiveWeightsAsOne(t *testing.T) {
	config := &models.SplitConfig{
		SplitType: models.SplitTypeCustom,
		Weights:   map[string]int{"a": 0, "b": -5},
	}
	branches := map[string]string{"a": "s1", "b": "s2"}

	seen := make(map[string]int)

	for i := 0; i < 100; i++ {
		seen[splitBranch(config, branches, fmt.Sprintf("contact-%d", i), "flow-v1")]++
	}

	assert.Len(t, seen, 2)
}
