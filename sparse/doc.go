// Package sparse implements the row-oriented sparse matrices used for
// transition and affinity data.
//
// A Matrix stores one sorted slice of (column, weight) entries per row.
// Transition matrices produced by the hierarchy are row-stochastic;
// affinity matrices produced by the similarity estimator are symmetric
// with a constant row sum.
//
// Matrices are values owned by the computation that built them; callers
// must not mutate a Matrix while an engine reads it.
package sparse
