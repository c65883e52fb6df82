package oggopus

import "github.com/zsiec/oggopus/ogg"

// PacketSource yields container packets from incrementally supplied bytes.
// The default implementation is an [ogg.Demuxer]; tests substitute fakes.
//
// NextPacket returns (nil, n, nil) when more input is needed, where n bytes
// of input were buffered. Returned packet data is only valid until the next
// NextPacket call.
type PacketSource interface {
	NextPacket(input []byte) (*ogg.Packet, int, error)

	// CurrentPageHasContinuedFlag reports whether the page that produced
	// the most recent packet opened with the continued-packet flag set.
	CurrentPageHasContinuedFlag() bool

	// PreviousPageEndedWithContinuedPacket reports whether the most
	// recently completed page ended mid-packet.
	PreviousPageEndedWithContinuedPacket() bool

	Reset()
}
