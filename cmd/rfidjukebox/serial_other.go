//go:build !linux

package main

import (
	"fmt"
	"io"
	"runtime"
)

func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("serial port %s: not supported on %s", device, runtime.GOOS)
}
