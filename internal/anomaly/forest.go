package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// eulerGamma is the Euler-Mascheroni constant used by the average path length.
const eulerGamma = 0.5772156649015329

// Node is one node of an isolation tree. Leaves have Left and Right set to -1.
// Samples below or equal to Threshold go left.
type Node struct {
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	NSamples  int     `json:"n_samples"`
}

func (n Node) leaf() bool { return n.Left < 0 && n.Right < 0 }

// Tree is an isolation tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a trained isolation forest over the transaction amount.
// It is immutable after LoadForest and safe for concurrent reads.
type Forest struct {
	ModelVersion string  `json:"version"`
	MaxSamples   int     `json:"max_samples"`
	Offset       float64 `json:"offset"`
	Trees        []Tree  `json:"trees"`

	norm float64
}

// LoadForest decodes and validates a forest artifact.
func LoadForest(r io.Reader) (*Forest, error) {
	var f Forest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	f.norm = averagePathLength(f.MaxSamples)
	return &f, nil
}

// LoadForestFile reads a forest artifact from disk.
func LoadForestFile(path string) (*Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	defer file.Close()

	f, err := LoadForest(file)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return f, nil
}

func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if f.MaxSamples < 2 {
		return fmt.Errorf("max_samples must be at least 2, got %d", f.MaxSamples)
	}
	if math.IsNaN(f.Offset) || math.IsInf(f.Offset, 0) {
		return errors.New("offset must be finite")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				if n.NSamples < 1 {
					return fmt.Errorf("tree %d leaf %d: n_samples must be positive", ti, ni)
				}
				continue
			}
			// Children must come after their parent so traversal always terminates.
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: invalid children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}

// Version returns the artifact version string.
func (f *Forest) Version() string {
	return f.ModelVersion
}

// ScoreSamples returns the raw isolation score, -2^(-E[h(x)]/c(n)).
// Values close to -1 are anomalies, values near -0.5 are normal.
func (f *Forest) ScoreSamples(x float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return -math.Pow(2, -mean/f.norm)
}

// DecisionFunction shifts ScoreSamples by the trained offset.
// Negative values are outliers, positive values inliers.
func (f *Forest) DecisionFunction(x float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

func (t *Tree) pathLength(x float64) float64 {
	idx, depth := 0, 0
	for {
		n := t.Nodes[idx]
		if n.leaf() {
			return float64(depth) + averagePathLength(n.NSamples)
		}
		if x <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
