package gocnc

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

type PortInfo struct {
	Name         string
	IsUSB        bool
	VID, PID     string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s %s)", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
}

func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return out, nil
}

// FindPort returns the port called name, case insensitive on windows.
func FindPort(name string) (PortInfo, error) {
	if runtime.GOOS == "windows" {
		name = strings.ToUpper(name)
	}
	ports, err := ListPorts()
	if err != nil {
		return PortInfo{}, err
	}
	if len(ports) == 0 {
		return PortInfo{}, errors.New("no serial ports found")
	}
	for _, p := range ports {
		if p.Name == name {
			return p, nil
		}
	}
	return PortInfo{}, fmt.Errorf("port %q not found", name)
}
