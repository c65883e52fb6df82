// Package ogg implements an incremental, push-based demultiplexer for a
// single Ogg logical bitstream (RFC 3533). Callers feed it arbitrary byte
// ranges — as little as one byte at a time — and receive complete logical
// packets together with the page-boundary metadata a codec layer needs:
// granule position, begin/end-of-stream flags, and whether the packet was
// the last one on its page.
//
// The central type is [Demuxer]. Each call to [Demuxer.NextPacket] consumes
// input up to at most one packet boundary and reports exactly how many bytes
// it consumed, so a caller can always make forward progress with a
// byte-at-a-time feed. Packets that fit entirely inside the caller's input
// are returned as zero-copy subslices; packets that span calls or pages are
// assembled in an internal buffer bounded by a configurable maximum. Packets
// exceeding that maximum are discarded and reported via [ErrPacketSkipped].
//
// Page CRC validation is opt-in ([DemuxerOptCRC]); enabling it buffers each
// page in full before any of its packets are delivered, trading zero-copy
// delivery for integrity checking.
package ogg
