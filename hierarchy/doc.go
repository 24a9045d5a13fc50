// Package hierarchy builds the multi-scale landmark hierarchy.
//
// Scale 0 holds every input point (or the caller's subset) and the
// row-stochastic transition matrix of its perplexity-calibrated kNN graph.
// Each further scale keeps the points that random walks over the scale below
// end on most often. Its transition matrix links landmarks that share the
// area of influence of a finer point.
//
// Scales live in an arena (Hierarchy.Scales) and refer to each other by
// index only. The influence index maps every landmark to the finer landmarks
// it dominates and to the original data points it represents.
package hierarchy
