// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

// Package nvram persists controller checkpoints across power loss.
//
// The layout is a fixed 16-byte image with the unit price in its own slot and
// the transaction record behind it, so a price change never disturbs an
// in-flight delivery record and vice versa. An erased image is all 0xFF, the
// same sentinel unprogrammed EEPROM reports.
package nvram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Image layout offsets.
const (
	priceOffset        = 0 // u32
	litersOffset       = 4 // u32
	priceTotalOffset   = 8 // u32
	stateOffset        = 12
	modeOffset         = 14
	modeSelectedOffset = 15

	imageSize = 16
)

// Sentinel values marking an absent record.
const (
	absentU32  = 0xFFFFFFFF
	absentByte = 0xFF
)

// Record is a transaction checkpoint.
type Record struct {
	Liters       uint32 // delivered volume, deciliters
	PriceTotal   uint32 // accrued amount, minor currency units
	State        uint8
	FuelMode     uint8
	ModeSelected bool
}

// Store is a file-backed non-volatile image. Writes are last-write-wins;
// there is no partial-write recovery beyond the sentinel check on read.
type Store struct {
	path string
}

// Open returns a store over the given file. The file is created on first
// write; a missing file reads as an erased image.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) readImage() ([]byte, error) {
	img, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return erasedImage(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(img) != imageSize {
		// Truncated or foreign content counts as erased.
		return erasedImage(), nil
	}
	return img, nil
}

func (s *Store) writeImage(img []byte) error {
	if err := os.WriteFile(s.path, img, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

func erasedImage() []byte {
	img := make([]byte, imageSize)
	for i := range img {
		img[i] = absentByte
	}
	return img
}

// ReadPrice returns the stored unit price, or 0 when none was ever written.
func (s *Store) ReadPrice() (uint32, error) {
	img, err := s.readImage()
	if err != nil {
		return 0, err
	}
	price := binary.LittleEndian.Uint32(img[priceOffset:])
	if price == absentU32 {
		return 0, nil
	}
	return price, nil
}

// WritePrice stores the unit price without touching the transaction record.
func (s *Store) WritePrice(price uint32) error {
	img, err := s.readImage()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(img[priceOffset:], price)
	return s.writeImage(img)
}

// SaveTransaction checkpoints a transaction record.
func (s *Store) SaveTransaction(rec Record) error {
	img, err := s.readImage()
	if err != nil {
		return err
	}
	putRecord(img, rec)
	return s.writeImage(img)
}

// RestoreTransaction reads the checkpoint written by SaveTransaction. The
// second return value is false when no valid record is present.
func (s *Store) RestoreTransaction() (Record, bool, error) {
	img, err := s.readImage()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := getRecord(img)
	return rec, ok, nil
}

// Erase resets the transaction record to the absent sentinel, keeping the
// stored price.
func (s *Store) Erase() error {
	img, err := s.readImage()
	if err != nil {
		return err
	}
	for i := litersOffset; i < imageSize; i++ {
		img[i] = absentByte
	}
	return s.writeImage(img)
}

func putRecord(img []byte, rec Record) {
	binary.LittleEndian.PutUint32(img[litersOffset:], rec.Liters)
	binary.LittleEndian.PutUint32(img[priceTotalOffset:], rec.PriceTotal)
	img[stateOffset] = rec.State
	img[modeOffset] = rec.FuelMode
	if rec.ModeSelected {
		img[modeSelectedOffset] = 1
	} else {
		img[modeSelectedOffset] = 0
	}
}

func getRecord(img []byte) (Record, bool) {
	liters := binary.LittleEndian.Uint32(img[litersOffset:])
	total := binary.LittleEndian.Uint32(img[priceTotalOffset:])
	state := img[stateOffset]
	if liters == absentU32 || total == absentU32 || state == absentByte {
		return Record{}, false
	}
	return Record{
		Liters:       liters,
		PriceTotal:   total,
		State:        state,
		FuelMode:     img[modeOffset],
		ModeSelected: img[modeSelectedOffset] != 0,
	}, true
}
