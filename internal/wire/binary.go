package wire

// PutUint16 writes v into buf[0:2] in big-endian order.
func PutUint16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

// Uint16 reads a big-endian uint16 from buf[0:2].
func Uint16(buf []byte) uint16 {
	return uint16(buf[0])<<8 | uint16(buf[1])
}

// PutUint32 writes v into buf[0:4] in big-endian order.
func PutUint32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

// Uint32 reads a big-endian uint32 from buf[0:4].
func Uint32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}
