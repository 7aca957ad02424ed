package main

// mcp3008Request builds the 3-byte request for a single-ended read.
func mcp3008Request(channel int) [3]byte {
	return [3]byte{0x01, byte(0x80 | (channel&0x07)<<4), 0x00}
}

// mcp3008Decode extracts the 10-bit result from the reply.
func mcp3008Decode(rx [3]byte) int {
	return int(rx[1]&0x03)<<8 | int(rx[2])
}
