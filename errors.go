package oggopus

import "errors"

var (
	// ErrInputInvalid means the stream violates Ogg or Opus framing rules.
	// The decoder refuses further input until Reset.
	ErrInputInvalid = errors.New("oggopus: invalid stream")

	// ErrNotInitialized means an audio packet arrived before the
	// identification header established a codec.
	ErrNotInitialized = errors.New("oggopus: decoder not initialized")

	// ErrAllocationFailed means codec construction failed. The call that
	// returns it consumes no input; retrying is safe.
	ErrAllocationFailed = errors.New("oggopus: codec allocation failed")

	// ErrBufferTooSmall means the output slice cannot hold the pending
	// packet's samples. The call that returns it consumes no input and
	// mutates no state; grow the buffer to RequiredOutputLen and retry.
	ErrBufferTooSmall = errors.New("oggopus: output buffer too small")

	// ErrDecodeFailed means the codec rejected an audio packet.
	ErrDecodeFailed = errors.New("oggopus: packet decode failed")
)
