package region

import (
	"math"
	"testing"

	"github.com/stochsafe/barricade/internal/geom"
)

func TestUniformPartition1D(t *testing.T) {
	space := geom.MustHyperrectangle([]float64{-1}, []float64{1})
	regions, err := UniformPartition(space, []int{5})
	if err != nil {
		t.Fatalf("UniformPartition: %v", err)
	}
	if len(regions) != 5 {
		t.Fatalf("got %d regions, want 5", len(regions))
	}
	for j, r := range regions {
		wantLow := -1 + 0.4*float64(j)
		if math.Abs(r.Box.Low[0]-wantLow) > 1e-12 {
			t.Errorf("region %d low = %g, want %g", j, r.Box.Low[0], wantLow)
		}
		if r.Index != j {
			t.Errorf("region %d has index %d", j, r.Index)
		}
	}
	if got := regions[4].Box.High[0]; got != 1 {
		t.Errorf("last region high = %g, want exact 1", got)
	}
}

func TestUniformPartition2D(t *testing.T) {
	space := geom.MustHyperrectangle([]float64{0, 0}, []float64{2, 3})
	regions, err := UniformPartition(space, []int{2, 3})
	if err != nil {
		t.Fatalf("UniformPartition: %v", err)
	}
	if len(regions) != 6 {
		t.Fatalf("got %d regions, want 6", len(regions))
	}
	// First coordinate varies fastest.
	if regions[1].Box.Low[0] != 1 || regions[1].Box.Low[1] != 0 {
		t.Errorf("region 1 low = %v, want [1 0]", regions[1].Box.Low)
	}
	if regions[2].Box.Low[0] != 0 || regions[2].Box.Low[1] != 1 {
		t.Errorf("region 2 low = %v, want [0 1]", regions[2].Box.Low)
	}
	vol := 0.0
	for _, r := range regions {
		vol += r.Box.Volume()
	}
	if math.Abs(vol-6) > 1e-12 {
		t.Errorf("partition volume = %g, want 6", vol)
	}
}

func TestUniformPartitionRejectsBadCounts(t *testing.T) {
	space := geom.MustHyperrectangle([]float64{0}, []float64{1})
	if _, err := UniformPartition(space, []int{0}); err == nil {
		t.Error("zero count accepted")
	}
	if _, err := UniformPartition(space, []int{2, 2}); err == nil {
		t.Error("count dimension mismatch accepted")
	}
}

func TestValidate(t *testing.T) {
	base := Region{Index: 0, Box: geom.MustHyperrectangle([]float64{0}, []float64{1})}
	tests := []struct {
		name    string
		lower   []float64
		upper   []float64
		wantErr bool
	}{
		{"valid", []float64{0.2, 0.3, 0.1}, []float64{0.5, 0.6, 0.2}, false},
		{"lower above upper", []float64{0.5, 0.3, 0.1}, []float64{0.2, 0.6, 0.2}, true},
		{"negative lower", []float64{-0.1, 0.3, 0.1}, []float64{0.5, 0.6, 0.2}, true},
		{"upper above one", []float64{0.2, 0.3, 0.1}, []float64{1.5, 0.6, 0.2}, true},
		{"joint lower above one", []float64{0.5, 0.5, 0.2}, []float64{0.6, 0.6, 0.3}, true},
		{"joint upper below one", []float64{0.0, 0.0, 0.0}, []float64{0.1, 0.1, 0.1}, true},
		{"length mismatch", []float64{0.2, 0.3}, []float64{0.5, 0.6, 0.2}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := WithProbabilities{Region: base, Lower: tc.lower, Upper: tc.upper}
			err := r.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestUpdateRegionsReconstructs(t *testing.T) {
	base := Region{Index: 0, Box: geom.MustHyperrectangle([]float64{0}, []float64{1})}
	orig := []WithProbabilities{{
		Region: base,
		Lower:  []float64{0.1, 0.2, 0.0},
		Upper:  []float64{0.6, 0.7, 0.1},
	}}

	updated, err := UpdateRegions(orig,
		[][]float64{{0.2, 0.3, 0.0}},
		[][]float64{{0.5, 0.6, 0.1}},
	)
	if err != nil {
		t.Fatalf("UpdateRegions: %v", err)
	}
	if updated[0].Lower[0] != 0.2 {
		t.Errorf("updated lower[0] = %g, want 0.2", updated[0].Lower[0])
	}
	// Original must be untouched.
	if orig[0].Lower[0] != 0.1 {
		t.Errorf("original mutated: lower[0] = %g", orig[0].Lower[0])
	}

	if _, err := UpdateRegions(orig, [][]float64{{0.9, 0.9, 0.9}}, [][]float64{{1, 1, 1}}); err == nil {
		t.Error("invalid sharpened intervals accepted")
	}
	if _, err := UpdateRegions(orig, nil, nil); err == nil {
		t.Error("column count mismatch accepted")
	}
}
