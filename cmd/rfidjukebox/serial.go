package main

import "slices"

// supportedBauds lists the UART rates openSerial accepts on every platform.
var supportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400}

func supportedBaud(baud int) bool {
	return slices.Contains(supportedBauds, baud)
}
