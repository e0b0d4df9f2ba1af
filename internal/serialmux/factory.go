package serialmux

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// MockPortName selects the synthetic gateway instead of a device path.
const MockPortName = "mock"

// MockTickLine is what the synthetic gateway emits: one parked track and
// one empty slot, enough to run the pipeline without hardware.
const MockTickLine = `{"t_0":{"x":0.4,"y":1.0},"t_1":{"x":0,"y":0}}` + "\n"

// mockTickInterval matches the gateway's 10 Hz report rate.
const mockTickInterval = 100 * time.Millisecond

// OpenGateway opens the gateway console at path. The special path
// MockPortName returns a synthetic gateway for running without hardware.
// Bytes buffered by the driver before the open are discarded so Monitor
// starts on a fresh line.
func OpenGateway(path string, opts PortOptions) (SerialMuxInterface, error) {
	if path == MockPortName {
		return NewMockSerialMux([]byte(MockTickLine), mockTickInterval), nil
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", path, err)
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open gateway %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset gateway %s: %w", path, err)
	}
	return NewSerialMux(port), nil
}
