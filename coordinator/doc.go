// Package coordinator runs hierarchy builds and embedding runs on a
// dedicated background goroutine and streams their progress as events.
//
// A Coordinator owns at most one active run. Starting a new run first stops
// the active one: the stop flag is observed between iterations, and a run
// that does not exit within the grace period is abandoned after its compute
// context is destroyed. Listener callbacks run synchronously on the worker
// goroutine, so a listener may call Stop.
//
// The compute context of a run is created by the caller and handed to the
// worker with an explicit ownership transfer before any kernel runs. It is
// handed back when the run ends, which is what lets Continue resume an
// aborted or finished embedding.
package coordinator
