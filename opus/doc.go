// Package opus implements the codec-level pieces of an Ogg Opus stream
// (RFC 7845): parsing and validation of the OpusHead identification header,
// recognition of the OpusTags comment header, per-packet sample counting
// from the TOC byte, and a PCM decoder that selects between the plain and
// multistream Opus decoding paths based on the channel mapping family.
//
// Decoding is backed by github.com/thesyncim/gopus.
package opus
