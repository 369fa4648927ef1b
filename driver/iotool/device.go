//go:build !tinygo

package iotool

import (
	"io"

	"github.com/tarm/serial"
)

// baudRate is the IOTool device's fixed serial rate.
const baudRate = 115200

// OpenDevice returns an Opener that (re)opens the serial port at dev each
// time it is called, which Reset needs since the device node disappears
// and reappears across a reset.
func OpenDevice(dev string) Opener {
	return func() (io.ReadWriteCloser, error) {
		c := &serial.Config{Name: dev, Baud: baudRate}
		return serial.OpenPort(c)
	}
}
