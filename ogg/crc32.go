package ogg

// Ogg CRC32 with polynomial 0x04C11DB7, zero initial value and no final
// XOR, computed over the entire page with the checksum field zeroed
// (RFC 3533 Section 6).
var crc32Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

func updateCRC32(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}
