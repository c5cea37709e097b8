package state

// Dimension indexes one axis of the 7-dimension health space.
type Dimension int

const (
	DimTemporal Dimension = iota
	DimFunctional
	DimData
	DimState
	DimError
	DimContext
	DimIntegration

	NumDimensions = 7
)

var dimensionNames = [NumDimensions]string{
	"temporal", "functional", "data", "state", "error", "context", "integration",
}

func (d Dimension) String() string {
	if d < 0 || int(d) >= NumDimensions {
		return "unknown"
	}
	return dimensionNames[d]
}

// Profile is a point in the 7-dimension health space. Each component is a
// normalized pressure signal in [0,1] where higher means worse. Profiles are
// recomputed each cycle from current state and are never ground truth.
type Profile [NumDimensions]float64

// Clamped returns a copy with every component forced into [0,1].
func (p Profile) Clamped() Profile {
	for i, v := range p {
		if v < 0 {
			p[i] = 0
		} else if v > 1 {
			p[i] = 1
		}
	}
	return p
}

// Map returns the profile keyed by dimension name, for API payloads.
func (p Profile) Map() map[string]float64 {
	m := make(map[string]float64, NumDimensions)
	for i, v := range p {
		m[dimensionNames[i]] = v
	}
	return m
}

// Weights holds per-dimension weights used to collapse a profile into a
// single score. Values come from configuration, not constants.
type Weights [NumDimensions]float64

// WeightsFromMap builds a weight vector from a name-keyed map. Unknown names
// are ignored; missing dimensions weigh zero.
func WeightsFromMap(m map[string]float64) Weights {
	var w Weights
	for i, name := range dimensionNames {
		if v, ok := m[name]; ok {
			w[i] = v
		}
	}
	return w
}

// Score is the weighted aggregate of the profile, normalized by the weight
// sum. A zero weight vector scores 0.
func (p Profile) Score(w Weights) float64 {
	var sum, total float64
	for i, v := range p {
		sum += v * w[i]
		total += w[i]
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
