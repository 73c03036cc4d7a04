package geom

import (
	"math"
	"sort"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewHyperrectangleRejects(t *testing.T) {
	cases := []struct {
		name      string
		low, high []float64
	}{
		{"dimension mismatch", []float64{0}, []float64{1, 2}},
		{"empty", nil, nil},
		{"inverted", []float64{1}, []float64{0}},
		{"nan", []float64{math.NaN()}, []float64{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewHyperrectangle(tc.low, tc.high); err == nil {
				t.Error("accepted")
			}
		})
	}

	// Degenerate (zero-width) boxes are legal.
	if _, err := NewHyperrectangle([]float64{1, 2}, []float64{1, 3}); err != nil {
		t.Errorf("degenerate box rejected: %v", err)
	}
}

func TestHyperrectangleGeometry(t *testing.T) {
	h := MustHyperrectangle([]float64{-1, 0}, []float64{1, 4})

	if c := h.Center(); c[0] != 0 || c[1] != 2 {
		t.Errorf("center %v", c)
	}
	if r := h.Radius(); r[0] != 1 || r[1] != 2 {
		t.Errorf("radius %v", r)
	}
	if v := h.Volume(); v != 8 {
		t.Errorf("volume %g", v)
	}
	if !h.Contains([]float64{1, 4}) {
		t.Error("boundary point excluded")
	}
	if h.Contains([]float64{0, 4.01}) || h.Contains([]float64{0}) {
		t.Error("outside point or wrong dimension accepted")
	}

	verts := h.Vertices()
	if len(verts) != 4 {
		t.Fatalf("%d vertices, want 4", len(verts))
	}
	for _, v := range verts {
		if !h.Contains(v) {
			t.Errorf("vertex %v outside the box", v)
		}
	}

	g := h.Inflate([]float64{0.5, 1})
	if g.Low[0] != -1.5 || g.High[1] != 5 {
		t.Errorf("inflated to %+v", g)
	}
}

func TestIsDisjointRects(t *testing.T) {
	a := MustHyperrectangle([]float64{0, 0}, []float64{1, 1})
	b := MustHyperrectangle([]float64{2, 0}, []float64{3, 1})
	c := MustHyperrectangle([]float64{1, 1}, []float64{2, 2})

	if !IsDisjointRects(a, b) {
		t.Error("separated boxes reported intersecting")
	}
	// Shared corner: closed boxes touch, so not disjoint.
	if IsDisjointRects(a, c) {
		t.Error("touching boxes reported disjoint")
	}
	if !MayIntersect(a, c) || MayIntersect(a, b) {
		t.Error("MayIntersect disagrees with the interval test")
	}
}

func TestProjectOntoHyperrect(t *testing.T) {
	h := MustHyperrectangle([]float64{-1, -1}, []float64{1, 1})
	got := ProjectOntoHyperrect(h, []float64{3, 0.5})
	if got[0] != 1 || got[1] != 0.5 {
		t.Errorf("projected to %v", got)
	}
	inside := []float64{0.2, -0.7}
	if p := ProjectOntoHyperrect(h, inside); p[0] != inside[0] || p[1] != inside[1] {
		t.Errorf("interior point moved to %v", p)
	}
}

func TestToHPolytopeRoundTrip(t *testing.T) {
	h := MustHyperrectangle([]float64{-2, 1}, []float64{0, 3})
	p := h.ToHPolytope()
	if p.NumRows() != 4 || p.Dim() != 2 {
		t.Fatalf("%d rows in dimension %d", p.NumRows(), p.Dim())
	}
	if !p.Contains(h.Center(), 0) {
		t.Error("center excluded")
	}
	if p.Contains([]float64{0.1, 2}, 1e-12) {
		t.Error("outside point accepted")
	}

	verts, err := VerticesList(p, 1e-9)
	if err != nil {
		t.Fatalf("VerticesList: %v", err)
	}
	if len(verts) != 4 {
		t.Fatalf("%d vertices recovered, want 4", len(verts))
	}
	for _, v := range verts {
		if !h.Contains(v) {
			t.Errorf("recovered vertex %v outside the box", v)
		}
	}
}

func TestVerticesListTriangle(t *testing.T) {
	// x >= 0, y >= 0, x + y <= 1.
	a := mat.NewDense(3, 2, []float64{-1, 0, 0, -1, 1, 1})
	p := HPolytope{A: a, B: []float64{0, 0, 1}}

	verts, err := VerticesList(p, 1e-9)
	if err != nil {
		t.Fatalf("VerticesList: %v", err)
	}
	if len(verts) != 3 {
		t.Fatalf("%d vertices, want 3", len(verts))
	}
	sort.Slice(verts, func(i, j int) bool {
		if verts[i][0] != verts[j][0] {
			return verts[i][0] < verts[j][0]
		}
		return verts[i][1] < verts[j][1]
	})
	want := [][]float64{{0, 0}, {0, 1}, {1, 0}}
	for k := range want {
		for i := 0; i < 2; i++ {
			if math.Abs(verts[k][i]-want[k][i]) > 1e-9 {
				t.Errorf("vertex %d = %v, want %v", k, verts[k], want[k])
			}
		}
	}
}

func TestVerticesListUnbounded(t *testing.T) {
	// A single half-space cannot be bounded.
	a := mat.NewDense(1, 2, []float64{1, 0})
	if _, err := VerticesList(HPolytope{A: a, B: []float64{1}}, 1e-9); err == nil {
		t.Error("unbounded system accepted")
	}
	// Two parallel rows in the same direction: still unbounded, caught by
	// the empty result path.
	a2 := mat.NewDense(2, 2, []float64{1, 0, 1, 0})
	if _, err := VerticesList(HPolytope{A: a2, B: []float64{1, 2}}, 1e-9); err == nil {
		t.Error("parallel half-spaces accepted")
	}
}

func TestEnumeratorCaches(t *testing.T) {
	enum, err := NewEnumerator(16, 1e-9)
	if err != nil {
		t.Fatalf("NewEnumerator: %v", err)
	}
	p := MustHyperrectangle([]float64{0, 0}, []float64{1, 1}).ToHPolytope()

	first, err := enum.Vertices(p)
	if err != nil {
		t.Fatalf("Vertices: %v", err)
	}
	second, err := enum.Vertices(p)
	if err != nil {
		t.Fatalf("Vertices again: %v", err)
	}
	if len(first) != 4 || len(second) != 4 {
		t.Errorf("vertex counts %d and %d, want 4", len(first), len(second))
	}
	st := enum.Stats()
	if st.Hits < 1 {
		t.Errorf("cache stats %+v, want at least one hit", st)
	}
}

func TestAffineMapAndBoxApproximation(t *testing.T) {
	square := VPolytope{Vertices: [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}}}
	// Rotate by 90 degrees and shift.
	a := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
	img := AffineMap(a, square, []float64{1, 0})

	box := BoxApproximation(img)
	want := MustHyperrectangle([]float64{0, 0}, []float64{1, 1})
	if !box.Equal(want, 1e-12) {
		t.Errorf("bounding box %+v, want %+v", box, want)
	}
}

func TestL2ClosestPoint(t *testing.T) {
	triangle := VPolytope{Vertices: [][]float64{{0, 0}, {1, 0}, {0, 1}}}

	// Interior target is its own closest point.
	got := L2ClosestPoint(triangle, []float64{0.2, 0.2}, 500, 1e-12)
	if math.Abs(got[0]-0.2) > 1e-5 || math.Abs(got[1]-0.2) > 1e-5 {
		t.Errorf("interior target moved to %v", got)
	}

	// Target beyond the hypotenuse projects onto it.
	got = L2ClosestPoint(triangle, []float64{1, 1}, 500, 1e-12)
	if math.Abs(got[0]-0.5) > 1e-4 || math.Abs(got[1]-0.5) > 1e-4 {
		t.Errorf("projection %v, want (0.5, 0.5)", got)
	}

	// Target past a vertex snaps to the vertex.
	got = L2ClosestPoint(triangle, []float64{2, -1}, 500, 1e-12)
	if math.Abs(got[0]-1) > 1e-6 || math.Abs(got[1]) > 1e-6 {
		t.Errorf("projection %v, want (1, 0)", got)
	}
}

func TestL2ClosestPointH(t *testing.T) {
	p := MustHyperrectangle([]float64{0, 0}, []float64{1, 1}).ToHPolytope()
	got, err := L2ClosestPointH(p, []float64{2, 0.5}, nil, 500, 1e-9)
	if err != nil {
		t.Fatalf("L2ClosestPointH: %v", err)
	}
	if math.Abs(got[0]-1) > 1e-4 || math.Abs(got[1]-0.5) > 1e-4 {
		t.Errorf("projection %v, want (1, 0.5)", got)
	}
}
