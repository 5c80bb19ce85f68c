package executor

import (
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/agenciapixel/connectflow/pkg/models"
)

// splitBranch assigns the contact to exactly one branch of a split step.
// The assignment hashes (contact, flow version), so resuming or
// re-executing the step always lands on the same branch. The split type
// only changes how the hash space is partitioned: random gives every
// branch equal weight, percentage and custom use the configured weights.
func splitBranch(config *models.SplitConfig, branches map[string]string, contactID, flowID string) string {
	labels := make([]string, 0, len(branches))
	for label := range branches {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	if len(labels) == 0 {
		return ""
	}

	total := 0
	weights := make([]int, len(labels))

	for i, label := range labels {
		weight := 1
		if config.SplitType != models.SplitTypeRandom {
			weight = config.Weights[label]
		}

		if weight <= 0 {
			weight = 1
		}

		weights[i] = weight
		total += weight
	}

	point := int(murmur3.Sum32([]byte(contactID+":"+flowID)) % uint32(total))

	for i, label := range labels {
		point -= weights[i]
		if point < 0 {
			return label
		}
	}

	return labels[len(labels)-1]
}
