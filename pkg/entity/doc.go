// Package entity maintains the live state model for one robot.
//
// An Entity merges two partially overlapping event sources, push events
// from the broker subscription and replies from a periodic command poll,
// into a single state snapshot. Both sources feed the same per-command
// update rules, so either channel can drive any field. Every field write
// compares the old and new value and emits exactly one change
// notification when they differ; no field changes silently.
//
// Observers attach to receive field-change notifications. The first
// observer activates the push subscription and the poll loop; detaching
// the last observer deterministically stops both. Notifications are
// delivered synchronously on the path that produced the change, so
// observer callbacks must not block.
//
// Commands the robot does not announce (unknown event names) are
// deliberately accepted and ignored, keeping the client forward
// compatible with unmodeled device events. Map and navigation payloads
// are ignored the same way.
package entity
