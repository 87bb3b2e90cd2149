// Package demux fans a wildcard topic subscription out into per-topic
// output streams of a pipeline.Host.
//
// A Demuxer moves through Stopped, Starting, Started and Stopping. Start
// snapshots the Settings, obtains a transport session (shared by group
// name through a sessions.Source, or private), subscribes to the pattern
// and spawns one receiver goroutine. The receiver polls the subscription
// with the configured timeout and, per message:
//
//   - parses the metadata envelope when the message carries one
//   - decompresses the payload when the envelope names an algorithm
//   - routes the concrete topic to its output stream, creating the stream
//     on first sight and announcing it with StreamStart and Segment
//   - announces a Format event when the envelope's format changes
//   - pushes a buffer with the envelope's timing and tags applied
//
// Decode and delivery failures drop the message and increment the error
// counter; the loop keeps going. A push refused because the destination is
// draining is not an error. A subscription failure other than a timeout
// ends the loop; the demuxer then stays Started until Stop is called, and
// Done and Err report the failure.
//
// Stop sets a flag the receiver checks once per poll, waits for it, sends
// EOS to and removes every stream, and closes the subscription. Its latency
// is bounded by the poll timeout, which is why that timeout is
// configurable.
//
// # Naming
//
// The routing key, and therefore the stream name, is derived from the
// concrete topic by a Naming policy:
//
//	full-path     sensors/room 1/temp  -> sensors_room_1_temp
//	last-segment  sensors/room 1/temp  -> temp
//	hash          sensors/room 1/temp  -> topic_<16 hex digits>
//
// last-segment merges distinct topics with the same final segment into one
// stream and hash can merge topics whose hashes collide. Both are accepted
// behavior.
package demux
