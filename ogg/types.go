package ogg

// Packet is one complete logical packet extracted from the bitstream,
// together with the page metadata of the page on which it completed.
//
// Data may alias either the caller's input slice (zero-copy delivery) or an
// internal assembly buffer; it is valid only until the next call to
// [Demuxer.NextPacket] or [Demuxer.Reset]. Callers that need the bytes
// longer must copy them.
type Packet struct {
	Data []byte

	// GranulePos is the granule position of the page the packet completed
	// on. The value -1 means "no packet finishes on this page" per
	// RFC 3533 and must be treated as unset.
	GranulePos int64

	// BOS reports whether the completing page carried the
	// beginning-of-stream flag.
	BOS bool

	// EOS reports whether this is the final packet of a page carrying the
	// end-of-stream flag, i.e. the last packet of the logical bitstream.
	EOS bool

	// LastOnPage reports whether the packet's final segment is the final
	// segment of its page.
	LastOnPage bool
}

// Stats tracks delivery and buffering statistics across the lifetime of a
// Demuxer. Counters are cumulative and survive Reset.
type Stats struct {
	// ZeroCopyPackets counts packets returned as subslices of caller input.
	ZeroCopyPackets uint64
	// BufferedPackets counts packets assembled in the internal buffer.
	BufferedPackets uint64
	// SkippedPackets counts packets discarded for exceeding the maximum
	// packet size.
	SkippedPackets uint64

	// BufferCapacity is the current capacity of the assembly buffer in
	// bytes; MaxBufferCapacity is the high-water mark.
	BufferCapacity    int
	MaxBufferCapacity int
}
