// Package tsne implements the gradient-descent embedding engine.
//
// An engine consumes a symmetric affinity matrix (or a row-stochastic
// transition matrix, which is symmetrized first) and iteratively moves
// points in a 2- or 3-dimensional embedding. Two repulsion backends share
// one numeric contract:
//
//   - BackendBarnesHut: space-partitioning tree, O(N log N) per iteration
//   - BackendField: the repulsive field is evaluated on a regular grid
//     sized to the embedding extent and interpolated at each point
//
// Attraction, gains, momentum and the exaggeration schedule are shared, so
// both backends follow the same trajectory up to the repulsion
// approximation.
//
// # Exaggeration schedule
//
// For iteration i (0-based) the attractive forces are multiplied by
//
//	factor                              i <= E
//	1 + (factor-1) * (1 - (i-E)/D)      E < i <= E+D
//	1                                   otherwise
//
// where E is ExaggerationIter and D is ExaggerationDecay. The value is a
// pure function of the iteration counter, so SetCurrentIteration resumes
// exactly on the curve.
package tsne
