// Package progress tracks percentage completion, timing, and cancellation of
// long-running asynchronous work.
//
// A Registry holds one mutable record per operation id. Callers drive a
// record through its lifecycle with Start, Update, and exactly one of
// Complete, Fail, or Cancel; observers follow along through per-id or global
// subscriptions. Terminal records linger for a short grace period so final
// states can still be read, then a background sweeper removes them.
//
// The registry is tolerant by design: updates against unknown or already
// terminal ids are benign no-ops, favoring availability of the tracking layer
// over strictness. Cancellation is cooperative; Cancel only signals the
// registered cancel function and the tracked work must observe it.
package progress
