package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads and decodes a scenario seed file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}
	return &s, nil
}

// GroundTruthPath resolves the ground-truth sibling of a seed path:
// "x_seed.json" -> "x_ground_truth.json", "seed.json" -> "ground_truth.json",
// otherwise "sample_ground_truth.json" next to the seed.
func GroundTruthPath(seedPath string) string {
	dir := filepath.Dir(seedPath)
	name := filepath.Base(seedPath)
	switch {
	case strings.HasSuffix(name, "_seed.json"):
		return filepath.Join(dir, strings.TrimSuffix(name, "_seed.json")+"_ground_truth.json")
	case strings.HasSuffix(name, "seed.json"):
		return filepath.Join(dir, strings.TrimSuffix(name, "seed.json")+"ground_truth.json")
	default:
		return filepath.Join(dir, "sample_ground_truth.json")
	}
}

// LoadGroundTruth reads the ground truth sibling of a seed path. A missing
// file is not an error; episodes without ground truth simply skip scoring.
func LoadGroundTruth(seedPath string) (*GroundTruth, error) {
	path := GroundTruthPath(seedPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ground truth: %w", err)
	}
	var gt GroundTruth
	if err := json.Unmarshal(data, &gt); err != nil {
		return nil, fmt.Errorf("failed to decode ground truth %s: %w", path, err)
	}
	return &gt, nil
}
