// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package gaskit

// FuelMode selects how a delivery target is expressed on the wire.
type FuelMode uint8

const (
	FuelByVolume FuelMode = iota
	FuelByPrice
	FuelByFullTank
)

func (m FuelMode) String() string {
	switch m {
	case FuelByVolume:
		return "Volume"
	case FuelByPrice:
		return "Price"
	case FuelByFullTank:
		return "Full Tank"
	}
	return "Unknown"
}

// Next cycles Volume -> Price -> Full Tank -> Volume.
func (m FuelMode) Next() FuelMode {
	return FuelMode((uint8(m) + 1) % 3)
}
