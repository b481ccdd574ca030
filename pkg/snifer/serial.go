package snifer

import "github.com/Oskimark/snifer-mac/internal/adapters/serial"

// ListPorts enumerates the serial devices attached to this host.
func ListPorts() ([]PortInfo, error) {
	return serial.ListPorts()
}

// DescribePort renders p the way the interactive selector lists it.
func DescribePort(p PortInfo) string {
	return serial.Describe(p)
}
