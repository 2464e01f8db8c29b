// Package device places tensors on a compute device before a step runs.
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownDevice is returned by Lookup for an unregistered name.
var ErrUnknownDevice = errors.New("device: unknown device")

// Device moves a tensor into memory owned by the device.
type Device interface {
	Name() string
	Place(t *mat.Dense) (*mat.Dense, error)
}

// Host keeps tensors in host memory. Place returns a compact copy so that
// views into loader-owned storage are never mutated by a step.
type Host struct{}

// Name implements Device.
func (Host) Name() string { return "cpu" }

// Place implements Device.
func (Host) Place(t *mat.Dense) (*mat.Dense, error) {
	if t == nil {
		return nil, errors.New("device: nil tensor")
	}
	return mat.DenseCopyOf(t), nil
}

var registry = map[string]Device{
	"cpu": Host{},
}

// Lookup returns the registered device for name (case-insensitive).
func Lookup(name string) (Device, error) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownDevice, name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered devices.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
