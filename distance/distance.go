package distance

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var s0, s1 float32
	n := len(a)
	i := 0
	for ; i+2 <= n; i += 2 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		s0 += d0 * d0
		s1 += d1 * d1
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return s0 + s1
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Finite reports whether every component of v is a finite number.
func Finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Metric represents the distance metric used for vector comparison.
type Metric uint8

const (
	MetricCosine Metric = iota
	MetricDot
	MetricL2
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m <= MetricL2
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unsupported metric %d", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(b []byte) error {
	v, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMetric parses a metric name ("cosine", "dot"/"ip", "l2"/"euclidean").
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "":
		return MetricCosine, nil
	case "dot", "ip", "inner_product":
		return MetricDot, nil
	case "l2", "euclidean", "squared_l2":
		return MetricL2, nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", s)
	}
}

// Func is a function type for distance calculation. Lower is closer.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
// Cosine assumes both inputs are already L2-normalized.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return func(a, b []float32) float32 { return 1 - Dot(a, b) }, nil
	case MetricDot:
		return func(a, b []float32) float32 { return -Dot(a, b) }, nil
	case MetricL2:
		return SquaredL2, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Score converts a distance produced by Provider(m) into a similarity where higher is better.
func Score(m Metric, d float32) float32 {
	switch m {
	case MetricCosine:
		return 1 - d
	case MetricDot:
		return -d
	default:
		return 1 / (1 + d)
	}
}
