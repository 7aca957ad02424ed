//go:build linux

package main

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// struct spi_ioc_transfer from <linux/spi/spidev.h>
type spiIocTransfer struct {
	TxBuf          uint64
	RxBuf          uint64
	Len            uint32
	SpeedHz        uint32
	DelayUsecs     uint16
	BitsPerWord    uint8
	CsChange       uint8
	TxNbits        uint8
	RxNbits        uint8
	WordDelayUsecs uint8
	Pad            uint8
}

// SPI_IOC_MESSAGE(1) = _IOW('k', 0, char[sizeof(struct spi_ioc_transfer)])
const spiIocMessage1 = 1<<30 | uint(unsafe.Sizeof(spiIocTransfer{}))<<16 | 'k'<<8

// MCP3008 reads one single-ended channel of an MCP3008 10-bit ADC on spidev.
type MCP3008 struct {
	f       *os.File
	channel int
	speedHz uint32
}

// OpenMCP3008 opens the spidev node. The device is left in its default
// SPI mode 0, which the MCP3008 supports.
func OpenMCP3008(device string, channel, speedHz int) (*MCP3008, error) {
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("mcp3008: channel %d out of range", channel)
	}
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &MCP3008{f: f, channel: channel, speedHz: uint32(speedHz)}, nil
}

// Read performs one conversion: start bit, single-ended + channel, then
// clocks out the 10-bit result.
func (m *MCP3008) Read() (int, error) {
	tx := mcp3008Request(m.channel)
	var rx [3]byte

	xfer := spiIocTransfer{
		TxBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		RxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		Len:         uint32(len(tx)),
		SpeedHz:     m.speedHz,
		BitsPerWord: 8,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, m.f.Fd(), uintptr(spiIocMessage1), uintptr(unsafe.Pointer(&xfer)))
	runtime.KeepAlive(&tx)
	runtime.KeepAlive(&rx)
	if errno != 0 {
		return 0, fmt.Errorf("mcp3008 transfer: %w", errno)
	}
	return mcp3008Decode(rx), nil
}

func (m *MCP3008) Close() error {
	return m.f.Close()
}
