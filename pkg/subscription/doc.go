// Package subscription implements the push channel: a single persistent
// MQTT connection to the vendor broker over which devices publish
// unsolicited state events.
//
// One Client owns at most one broker connection, shared by every device
// subscription in the process. The connection is established lazily when
// the first subscription is added and torn down when the last one is
// removed.
//
// # Reconnection
//
// On connection loss the client reconnects with exponential backoff and
// jitter, and re-issues the topic filter for every device that still has
// an active subscription. Events published while the connection was down
// are not replayed; delivery is at-most-once, best-effort.
//
// # Topics
//
// Devices publish to iot/atr/{command}/{id}/{class}/{resource}/j. The
// per-device subscription filter wildcards the command and payload-type
// segments: iot/atr/+/{id}/{class}/{resource}/+. Messages whose topic
// does not parse, or whose payload is not valid JSON, are dropped with a
// logged warning.
package subscription
