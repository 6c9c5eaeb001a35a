// Package device manages per-device execution resources for embedding
// lookups: named in-order streams, synchronization events, stream-stateful
// compute-library handles, per-replica random generators and an optional
// collective-communication channel.
//
// Streams model the asynchronous issue-order execution queues of a GPU
// device on the host side: work submitted to the same stream executes in
// issue order, work on different streams is unordered unless an explicit
// event fence is used.
//
// A ResourceBundle is owned and mutated by exactly one replica goroutine.
// None of its mutating methods take internal locks; callers that share a
// bundle across goroutines must provide their own sequencing.
package device
