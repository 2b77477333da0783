package clienthello

// IsGREASE reports whether a 16-bit identifier is one of the sixteen
// RFC 8701 GREASE values (0x0a0a, 0x1a1a, ... 0xfafa): both bytes
// equal, low nibble 0xa. Clients insert these at random positions to
// keep the protocol from ossifying, so they carry no identity signal.
func IsGREASE(v uint16) bool {
	return byte(v>>8) == byte(v) && v&0x0f == 0x0a
}
