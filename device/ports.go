package device

import (
	"errors"
	"fmt"

	"go.bug.st/serial/enumerator"
)

var ErrNoUSBSerial = errors.New("no USB serial ports found")

// GetSerialPorts lists the USB serial ports that could be a stepper board
func GetSerialPorts() ([]enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("error listing serial ports: %w", err)
	}

	var result []enumerator.PortDetails
	for _, port := range ports {
		if port == nil || !port.IsUSB {
			continue
		}
		result = append(result, *port)
	}

	if len(result) == 0 {
		return nil, ErrNoUSBSerial
	}

	return result, nil
}
