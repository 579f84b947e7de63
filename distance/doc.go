// Package distance provides the vector metrics supported by workspaces.
//
// # Supported Metrics
//
//   - MetricCosine: cosine similarity; vectors are L2-normalized on insert (default)
//   - MetricDot: inner product on vectors as given
//   - MetricL2: squared Euclidean distance
//
// Index structures work with a distance where lower is closer (Distance) and
// report a similarity where higher is better (Score).
package distance
