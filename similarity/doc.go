// Package similarity turns neighbour graphs into perplexity-calibrated
// probability matrices.
//
// Conditional calibrates a Gaussian kernel per point so that the entropy of
// its neighbour distribution equals log(perplexity). Symmetrize merges the
// directional probabilities into a symmetric affinity matrix whose rows all
// sum to the same constant (2 by default); dividing by its total mass (2N)
// gives the joint distribution p_ij = (p(j|i) + p(i|j)) / 2N used by the
// embedding engine.
package similarity
