package docker

import (
	"fmt"
	"strings"
	"time"
)

// Label keys attached to every container the tool creates. They are the
// only record of a container's origin, which lets prune find leftovers
// from interrupted or --keep-container runs without a state file.
const (
	// LabelPrefix namespaces the tool's labels.
	LabelPrefix = "uhd-provision."

	// LabelManagedBy marks a container as created by this tool.
	// Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID stores the run ID of the provisioning run.
	LabelRunID = LabelPrefix + "run-id"

	// LabelImage stores the image reference the container was created from.
	LabelImage = LabelPrefix + "image"

	// LabelCreatedAt stores the RFC3339 UTC creation timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "uhd-provision"

// RunLabels describes the run a container belongs to.
type RunLabels struct {
	RunID     string
	Image     string
	CreatedAt time.Time
}

// BuildLabels returns the Docker label map for a container created by run.
func BuildLabels(run RunLabels) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     run.RunID,
		LabelImage:     run.Image,
		LabelCreatedAt: run.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ParseLabels is the inverse of BuildLabels. All missing keys are reported
// together.
func ParseLabels(labels map[string]string) (RunLabels, error) {
	var missing []string
	for _, key := range []string{LabelManagedBy, LabelRunID, LabelImage, LabelCreatedAt} {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return RunLabels{}, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return RunLabels{}, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return RunLabels{}, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	return RunLabels{
		RunID:     labels[LabelRunID],
		Image:     labels[LabelImage],
		CreatedAt: createdAt,
	}, nil
}

// ContainerName returns the Docker container name used for a run.
// Docker names allow [a-zA-Z0-9_.-], which run IDs (UUIDs) satisfy.
func ContainerName(runID string) string {
	return ManagedByValue + "-" + runID
}
