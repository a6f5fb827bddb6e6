package swdl

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/banh1996/go-doip-tester/internal/textutil"
	"github.com/banh1996/go-doip-tester/pkg/diag"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxBufferLen is the default Transfer Data chunk size. With the
// 0x36 and sequence-number bytes a full chunk makes a 4095-byte UDS request,
// just under 4 KiB; the 4-byte DoIP address prefix comes on top of that.
const DefaultMaxBufferLen = 4093

const (
	expectErase           = "7101ff00*"
	expectRequestDownload = "74*"
	expectTransferData    = "76*"
	expectTransferExit    = "77*"
	expectCheckMemory     = "710102121000*"
)

// Flash streams header's erase range and body's data blocks to the ECU
// through the UDS flash sequence (spec.md §4.5): erase, then per block
// request-download/transfer-data/transfer-exit, then a final check-memory.
// maxBufferLen <= 0 selects DefaultMaxBufferLen.
func Flash(d *diag.Diag, header Header, body io.Reader, maxBufferLen int, timeoutMs int) error {
	if maxBufferLen <= 0 {
		maxBufferLen = DefaultMaxBufferLen
	}

	if err := erase(d, header.Erase, timeoutMs); err != nil {
		return err
	}

	for {
		block, err := ReadBlock(body)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := transferBlock(d, block, maxBufferLen, timeoutMs); err != nil {
			return err
		}
		log.Debugf("swdl: block at 0x%08X (%d bytes) transferred, file checksum 0x%04X", block.StartAddr, block.Length, block.Checksum)
	}

	return checkMemory(d, header.SwSignatureDev, timeoutMs)
}

func erase(d *diag.Diag, r EraseRange, timeoutMs int) error {
	req := []byte{0x31, 0x01, 0xFF, 0x00}
	req = append(req, encodeU32BE(r.StartAddr)...)
	req = append(req, encodeU32BE(r.Length)...)
	_, err := sendAndExpect(d, req, expectErase, timeoutMs)
	return err
}

func transferBlock(d *diag.Diag, block Block, maxBufferLen int, timeoutMs int) error {
	req := []byte{0x34, 0x00, 0x44}
	req = append(req, encodeU32BE(block.StartAddr)...)
	req = append(req, encodeU32BE(block.Length)...)
	if _, err := sendAndExpect(d, req, expectRequestDownload, timeoutMs); err != nil {
		return err
	}

	seqNum := byte(1)
	remaining := block.Data
	for len(remaining) > 0 {
		n := maxBufferLen
		if n > len(remaining) {
			n = len(remaining)
		}
		chunk := remaining[:n]
		remaining = remaining[n:]

		req := append([]byte{0x36, seqNum}, chunk...)
		if _, err := sendAndExpect(d, req, expectTransferData, timeoutMs); err != nil {
			return err
		}
		if seqNum == 255 {
			seqNum = 0
		} else {
			seqNum++
		}
	}

	_, err := sendAndExpect(d, []byte{0x37}, expectTransferExit, timeoutMs)
	return err
}

func checkMemory(d *diag.Diag, swSignatureDev []byte, timeoutMs int) error {
	req := []byte{0x31, 0x01, 0x02, 0x12}
	req = append(req, swSignatureDev...)
	_, err := sendAndExpect(d, req, expectCheckMemory, timeoutMs)
	return err
}

func sendAndExpect(d *diag.Diag, req []byte, pattern string, timeoutMs int) ([]byte, error) {
	if err := d.SendDiag(req); err != nil {
		return nil, err
	}
	response, err := d.ReceiveDiag(timeoutMs)
	if err != nil {
		return nil, err
	}
	log.Debugf("swdl: sent %X, expect %s, received %X", req, pattern, response)
	if !textutil.CompareExpectValue(pattern, response) {
		return nil, fmt.Errorf("%w: response did not match %q", ErrExpectMismatch, pattern)
	}
	return response, nil
}

func encodeU32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
