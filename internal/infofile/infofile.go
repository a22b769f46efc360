// Package infofile reads and writes the device info file: a flat sequence of
// 64-byte blocks, each holding one device's address, key and name.
//
// Block layout, little-endian, zero padded:
//
//	[0:4]   address
//	[4:20]  AES key
//	[20:36] name, NUL terminated
//	[36:64] zero
//
// Reads and writes always start on a block boundary; a cursor left in the
// middle of a block by an interrupted write is moved back to the start of
// that block first. A trailing partial block reads as end of file.
package infofile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"bax-receiver/internal/devicestore"
)

const (
	BlockSize  = 64
	recordSize = 4 + devicestore.KeySize + devicestore.NameSize
)

// Encode renders info as one zero-padded block.
func Encode(info devicestore.Info) [BlockSize]byte {
	var b [BlockSize]byte
	binary.LittleEndian.PutUint32(b[0:], info.Address)
	copy(b[4:20], info.Key[:])
	name := info.Name
	if len(name) > devicestore.MaxNameLen {
		name = name[:devicestore.MaxNameLen]
	}
	copy(b[20:recordSize], name)
	return b
}

// Decode parses one block.
func Decode(b []byte) (devicestore.Info, error) {
	if len(b) < recordSize {
		return devicestore.Info{}, fmt.Errorf("infofile: short record (%d bytes)", len(b))
	}
	var info devicestore.Info
	info.Address = binary.LittleEndian.Uint32(b[0:])
	copy(info.Key[:], b[4:20])
	info.Name = devicestore.SanitizeName(b[20:recordSize])
	return info, nil
}

func align(s io.Seeker) error {
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if off := pos % BlockSize; off != 0 {
		_, err = s.Seek(-off, io.SeekCurrent)
	}
	return err
}

// ReadRecord reads the block at or containing the cursor. It returns io.EOF
// when no complete block remains.
func ReadRecord(rs io.ReadSeeker) (devicestore.Info, error) {
	if err := align(rs); err != nil {
		return devicestore.Info{}, fmt.Errorf("infofile: seek: %w", err)
	}
	var b [BlockSize]byte
	if _, err := io.ReadFull(rs, b[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return devicestore.Info{}, io.EOF
		}
		return devicestore.Info{}, fmt.Errorf("infofile: read: %w", err)
	}
	return Decode(b[:])
}

// WriteRecord writes info as one block at the cursor, overwriting any
// partial block the cursor sits in.
func WriteRecord(ws io.WriteSeeker, info devicestore.Info) error {
	if err := align(ws); err != nil {
		return fmt.Errorf("infofile: seek: %w", err)
	}
	b := Encode(info)
	if _, err := ws.Write(b[:]); err != nil {
		return fmt.Errorf("infofile: write: %w", err)
	}
	return nil
}

// LoadAll reads every complete block of the file in order. Empty blocks
// (address 0) are skipped. A missing file yields no records and no error.
func LoadAll(path string) ([]devicestore.Info, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("infofile: open: %w", err)
	}
	defer f.Close()

	var out []devicestore.Info
	for {
		info, err := ReadRecord(f)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if info.Address != 0 {
			out = append(out, info)
		}
	}
}

// LoadInto loads the file into st. Later blocks for the same address
// replace earlier ones. It returns the number of blocks applied.
func LoadInto(path string, st *devicestore.Store) (int, error) {
	infos, err := LoadAll(path)
	for _, info := range infos {
		st.InsertOrReplace(info)
	}
	return len(infos), err
}

// AppendOne adds one block at the end of the file, creating it if needed.
func AppendOne(path string, info devicestore.Info) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("infofile: open: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return fmt.Errorf("infofile: seek: %w", err)
	}
	if err := WriteRecord(f, info); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RewriteAll replaces the file contents with infos, dropping evicted and
// superseded blocks.
func RewriteAll(path string, infos []devicestore.Info) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("infofile: create: %w", err)
	}
	for _, info := range infos {
		if info.Address == 0 {
			continue
		}
		if err := WriteRecord(f, info); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
