//go:build !linux

package main

import (
	"fmt"
	"runtime"
)

type MCP3008 struct{}

func OpenMCP3008(device string, channel, speedHz int) (*MCP3008, error) {
	return nil, fmt.Errorf("spidev %s: not supported on %s", device, runtime.GOOS)
}

func (m *MCP3008) Read() (int, error) { return 0, fmt.Errorf("mcp3008: not supported") }
func (m *MCP3008) Close() error       { return nil }
