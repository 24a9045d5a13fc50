// Package refine implements drill-down: given landmarks selected at one
// scale of a hierarchy, it finds the landmarks of the scale below that the
// selection dominates and prepares their transition submatrix for a new
// embedding run.
//
// A landmark of the lower scale is kept when the selection holds more than
// Threshold of its area-of-influence mass. The comparison is strict, so a
// landmark at exactly the threshold is never kept.
package refine
