// Package events batches repeated per-node reconciler events (node
// launched, node terminated, node updater failed) into a single summarized
// log line per tick, instead of one line per node.
//
// This replaces a naive fan-out publish/subscribe bus: the reconciler does
// not need other components to react to these events, only a readable
// operator-facing log, so Summarizer accumulates counts and flushes once
// per tick.
package events
