package dataset

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

type BlobsConfig struct {
	Classes    int
	PerClass   int
	Features   int
	Separation float64
	Noise      float64
}

// GaussianBlobs draws PerClass points around one random centre per class. Centres are
// spread with standard deviation Separation and points with standard deviation Noise.
func GaussianBlobs(cfg BlobsConfig, rng *rand.Rand) (Set, error) {
	if cfg.Classes < 2 || cfg.PerClass <= 0 || cfg.Features <= 0 {
		return Set{}, fmt.Errorf("invalid blobs config: %+v", cfg)
	}
	if cfg.Separation == 0 {
		cfg.Separation = 2
	}
	if cfg.Noise == 0 {
		cfg.Noise = 1
	}

	centres := make([][]float64, cfg.Classes)
	for k := range centres {
		centres[k] = make([]float64, cfg.Features)
		for j := range centres[k] {
			centres[k][j] = rng.NormFloat64() * cfg.Separation
		}
	}

	n := cfg.Classes * cfg.PerClass
	x := mat.NewDense(n, cfg.Features, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		k := i % cfg.Classes
		row := x.RawRowView(i)
		for j := range row {
			row[j] = centres[k][j] + rng.NormFloat64()*cfg.Noise
		}
		y[i] = k
	}
	return Set{X: x, Y: y, Classes: cfg.Classes}, nil
}
