// Package activitylog records per-item and per-batch outcomes for operator
// inspection and export.
//
// A session writes to a Sink. The provided sinks compose:
//
//   - Log: capped in-memory log (100 entries by default), oldest dropped first
//   - RedisStore: the same cap mirrored into a Redis list, readable from
//     another process
//   - Paced: spaces entries out for display using a token bucket
//   - Multi: fans one entry out to several sinks
//
// # Basic Usage
//
//	log := activitylog.New(activitylog.DefaultCapacity)
//	sink := activitylog.NewPaced(log, 50*time.Millisecond)
//
//	// ... run a session with sink ...
//
//	fmt.Println(log.Export())
//
// # Export Format
//
// Each entry renders as "<timestamp> <message>[ - <detail>]" with the
// timestamp in 15:04:05 form; entries are newline-joined, oldest first.
package activitylog
