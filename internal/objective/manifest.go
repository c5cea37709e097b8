package objective

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/justmebob123/autonomy-sub005/internal/state"
)

// Manifest seeds the objective list from a YAML file. IDs are optional;
// dimension hints, when present, override the derived profile component.
type Manifest struct {
	Objectives []ManifestObjective `yaml:"objectives"`
}

// ManifestObjective is one seed entry.
type ManifestObjective struct {
	ID          string             `yaml:"id"`
	Description string             `yaml:"description"`
	Hints       map[string]float64 `yaml:"hints"`
}

// LoadManifest parses the manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read objective manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse objective manifest: %w", err)
	}
	for i, obj := range m.Objectives {
		if obj.Description == "" {
			return nil, fmt.Errorf("objective manifest: entry %d has no description", i)
		}
		for name, v := range obj.Hints {
			if !validDimension(name) {
				return nil, fmt.Errorf("objective manifest: entry %d has unknown dimension %q", i, name)
			}
			if v < 0 || v > 1 {
				return nil, fmt.Errorf("objective manifest: entry %d dimension %q out of range: %v", i, name, v)
			}
		}
	}
	return &m, nil
}

func validDimension(name string) bool {
	for d := state.Dimension(0); d < state.NumDimensions; d++ {
		if d.String() == name {
			return true
		}
	}
	return false
}

// Seed registers the manifest's objectives with the state manager. Entries
// without an ID get a generated one.
func (m *Manifest) Seed(states *state.Manager) []string {
	ids := make([]string, 0, len(m.Objectives))
	for _, entry := range m.Objectives {
		id := entry.ID
		if id == "" {
			id = uuid.New().String()
		}
		var profile state.Profile
		for d := state.Dimension(0); d < state.NumDimensions; d++ {
			if v, ok := entry.Hints[d.String()]; ok {
				profile[d] = v
			}
		}
		states.AddObjective(&state.Objective{
			ID:          id,
			Description: entry.Description,
			Profile:     profile,
			Status:      state.ObjectivePending,
			CreatedAt:   time.Now(),
		})
		ids = append(ids, id)
	}
	return ids
}
