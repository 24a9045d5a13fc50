// Package compute provides the parallel execution context used by the
// embedding kernels.
//
// A Context is created bound to its caller, which receives the initial
// Lease. Ownership moves explicitly with Lease.TransferOwnership; the old
// lease is revoked at that moment and any kernel launched through it fails
// with ErrRevoked. Destroy revokes every lease.
//
// Kernels split their index range into chunks of a fixed size, independent
// of the worker count, so chunked reductions sum in the same order on every
// run.
package compute
