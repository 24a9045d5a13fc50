// Package knn computes k-nearest-neighbour graphs over flat point buffers.
//
// Three interchangeable backends are available behind the Builder/Index
// capability pair:
//
//   - AlgorithmExact: exhaustive search, exact results
//   - AlgorithmBallTree: ball tree over a metric space, exact results
//   - AlgorithmHNSW: Hierarchical Navigable Small World graph, approximate
//
// Compute runs the all-points query in parallel and excludes each point
// from its own neighbour list.
package knn
