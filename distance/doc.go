// Package distance provides the dissimilarity functions used for neighbour
// search.
//
// # Supported Metrics
//
//   - MetricL2: squared Euclidean distance (default)
//   - MetricCosine: cosine distance, 1 - cos(a, b)
//   - MetricDot: inner-product distance, 1 - <a, b>
//   - MetricManhattan: L1 distance
//
// All functions return a value where smaller means closer, so they can be fed
// directly into a max-heap of the k best candidates.
//
// # Usage
//
//	fn, _ := distance.Provider(distance.MetricL2)
//	d := fn(a, b)
package distance
