// Package hsne provides hierarchical stochastic neighbour embedding for Go.
//
// HSNE summarises a large point set as a hierarchy of landmark scales,
// embeds the coarsest scale with t-SNE and lets the caller drill into a
// selection: the landmarks of the scale below that the selection
// influences are embedded on their own, and so on down to the data.
//
// # Quick Start
//
//	a, _ := hsne.Hierarchy(points, 784).
//	    Scales(3).
//	    Seed(42).
//	    Cache(blobstore.NewLocalStore("./cache"), "mnist").
//	    Build()
//	defer a.Close()
//
//	top, _ := a.EmbedTop(ctx)
//	child, _ := a.Refine(ctx, top.Scale, []uint32{0, 1, 2})
//
// # Background Runs
//
// Embeddings run on a background worker managed by a coordinator. Stop
// interrupts the active run at the next iteration and Continue resumes it
// from the same state; a run that ignores Stop is terminated after a grace
// period. Progress events (snapshots, built scales) are delivered to the
// listener set with WithListener.
//
// # Caching
//
// With a cache configured the hierarchy is stored in a blobstore.BlobStore
// (local directory, S3 or MinIO) next to a fingerprint of the build
// parameters. A later build with the same fingerprint loads it instead.
package hsne
