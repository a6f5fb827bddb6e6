// Package swdl parses Versatile Binary Format (VBF) software files and
// drives the UDS flash protocol (erase, request download, transfer data,
// transfer exit, check memory) that streams them to an ECU.
//
// Grounded on original_source/src/executor/swdl.rs's header text-scanning
// (extract_value/extract_erase_values) for ParseHeader — that file left the
// flash sequence itself as a TODO, so Flash (flash.go) is built directly
// from spec.md §4.5.
package swdl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banh1996/go-doip-tester/internal/textutil"
)

// EraseRange is the {start_addr, length} pair a VBF header's erase field
// declares.
type EraseRange struct {
	StartAddr uint32
	Length    uint32
}

// Header is the parsed text portion of a VBF file.
type Header struct {
	SwPartNumber         string
	SwVersion            string
	SwPartType           string
	EcuAddress           string
	DataFormatIdentifier string
	Erase                EraseRange
	SwSignatureDev       []byte
	FileChecksum         string
}

// ParseHeader scans data for the brace-delimited `header { ... }` block,
// extracts its named fields, and returns the header plus the byte offset
// immediately past the closing brace (where the binary body begins).
func ParseHeader(data []byte) (Header, int, error) {
	start := bytes.Index(data, []byte("header {"))
	if start < 0 {
		return Header{}, 0, fmt.Errorf("%w: \"header {\" block not found", ErrConfigError)
	}

	depth := 0
	end := -1
	for i := start; i < len(data); i++ {
		switch data[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
				break
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return Header{}, 0, fmt.Errorf("%w: unterminated header block", ErrConfigError)
	}

	content := string(data[start : end+1])

	h := Header{
		SwPartNumber:         extractValue(content, "sw_part_number"),
		SwVersion:            extractValue(content, "sw_version"),
		SwPartType:           extractValue(content, "sw_part_type"),
		EcuAddress:           extractValue(content, "ecu_address"),
		DataFormatIdentifier: extractValue(content, "data_format_identifier"),
		FileChecksum:         extractValue(content, "file_checksum"),
	}

	sigHex := extractValue(content, "sw_signature_dev")
	sig, err := textutil.HexToBytes(sigHex)
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: sw_signature_dev: %v", ErrConfigError, err)
	}
	h.SwSignatureDev = sig

	erase, err := parseEraseRange(extractValue(content, "erase"))
	if err != nil {
		return Header{}, 0, err
	}
	h.Erase = erase

	return h, end + 1, nil
}

// extractValue finds field's first occurrence in content, then takes
// everything up to the next ';', trimming an optional leading '=' and
// surrounding quotes/whitespace. Mirrors
// original_source/src/executor/swdl.rs's extract_value.
func extractValue(content, field string) string {
	idx := strings.Index(content, field)
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(field):]
	end := strings.Index(rest, ";")
	if end < 0 {
		return ""
	}
	value := strings.TrimSpace(rest[:end])
	value = strings.TrimPrefix(value, "=")
	value = strings.TrimSpace(value)
	return strings.Trim(value, "\" ")
}

// parseEraseRange parses a "start,length" pair (each an optionally
// 0x-prefixed hex address) out of an erase field's raw text, tolerating
// the surrounding braces/whitespace original VBF files wrap it in.
func parseEraseRange(raw string) (EraseRange, error) {
	firstLine := strings.SplitN(raw, "\n", 2)[0]
	parts := strings.Split(firstLine, ",")
	if len(parts) != 2 {
		return EraseRange{}, fmt.Errorf("%w: malformed erase field %q", ErrConfigError, raw)
	}

	start, err := strconv.ParseUint(cleanEraseToken(parts[0]), 16, 32)
	if err != nil {
		return EraseRange{}, fmt.Errorf("%w: erase start address %q: %v", ErrConfigError, parts[0], err)
	}
	length, err := strconv.ParseUint(cleanEraseToken(parts[1]), 16, 32)
	if err != nil {
		return EraseRange{}, fmt.Errorf("%w: erase length %q: %v", ErrConfigError, parts[1], err)
	}
	return EraseRange{StartAddr: uint32(start), Length: uint32(length)}, nil
}

func cleanEraseToken(s string) string {
	s = strings.Trim(s, "{} \t\r\f;")
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return s
}

// Block is one binary body block: [start_addr u32 BE][length u32 BE]
// [data[length]][checksum u16 BE] (spec.md §3).
type Block struct {
	StartAddr uint32
	Length    uint32
	Data      []byte
	Checksum  uint16
}

// ReadBlock reads the next Block from r. It returns io.EOF (unwrapped, so
// callers can use it directly as a loop sentinel) once no more blocks
// remain.
func ReadBlock(r io.Reader) (Block, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return Block{}, io.EOF
		}
		return Block{}, fmt.Errorf("%w: reading block header: %v", ErrIOError, err)
	}

	startAddr := binary.BigEndian.Uint32(header[0:4])
	length := binary.BigEndian.Uint32(header[4:8])

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Block{}, fmt.Errorf("%w: reading block data: %v", ErrIOError, err)
	}

	checksumBytes := make([]byte, 2)
	if _, err := io.ReadFull(r, checksumBytes); err != nil {
		return Block{}, fmt.Errorf("%w: reading block checksum: %v", ErrIOError, err)
	}

	return Block{
		StartAddr: startAddr,
		Length:    length,
		Data:      data,
		Checksum:  binary.BigEndian.Uint16(checksumBytes),
	}, nil
}
