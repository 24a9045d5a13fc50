// Package cache persists built hierarchies so that repeated analyses of the
// same dataset skip construction.
//
// A cache entry for dataset name consists of three blobs:
//
//	<name>_hierarchy.hsne               scales
//	<name>_influence-tp-hierarchy.hsne  landmark maps
//	<name>_parameters.hsne              JSON fingerprint
//
// The fingerprint is written last and acts as the commit point. On load it
// is compared with the requested parameters; any difference in the point
// count, dimensionality, scale count, neighbour library or metric, seed or
// sampling mode is a mismatch, and LoadOrBuild rebuilds the hierarchy.
package cache
