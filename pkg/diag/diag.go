// Package diag exposes a UDS-shaped send/receive on top of pkg/doip,
// filtering the "response pending" (NRC 0x78) and DoIP-level ACK/No-op
// signals that would otherwise leak UDS noise up to callers.
//
// Grounded on pkg/sdo/client.go's request/response wait loop — this
// tester's pending/ACK suppression is far simpler than SDO's segmented
// state machine, but keeps the same "loop until something real arrives,
// or the deadline expires" shape.
package diag

import (
	"errors"
	"time"

	"github.com/banh1996/go-doip-tester/pkg/doip"
	"github.com/banh1996/go-doip-tester/pkg/soad"
	log "github.com/sirupsen/logrus"
)

// ackDrainTimeoutMs bounds how long SendAndReceive waits to drain a DoIP
// ACK after a suppress-positive-response request, per spec.md §4.3.
const ackDrainTimeoutMs = 1000

// nrcResponsePending is the UDS negative response code meaning "request
// correctly received, response pending" (spec.md Glossary).
const nrcResponsePending = 0x78

// Diag wraps a doip.DoIP connection. The source's per-read timeout
// parameter is preserved for each individual receive, but the source's
// recommendation to bound the *aggregate* wait across repeated pending
// responses (spec.md §9) is implemented via MaxPendingWait.
type Diag struct {
	transport      *doip.DoIP
	MaxPendingWait time.Duration
}

// DefaultMaxPendingWaitMultiple is how many multiples of the per-call
// timeout the aggregate pending wait is allowed to span by default,
// approximating a P2*_server_max ceiling (spec.md §9 Open Question).
const DefaultMaxPendingWaitMultiple = 10

// New creates a Diag layer over an already-built doip.DoIP.
func New(transport *doip.DoIP) *Diag {
	return &Diag{transport: transport}
}

// IsSuppressPositiveResponse reports whether a two-byte UDS request has
// its sub-function suppress-positive-response bit (0x80) set.
func IsSuppressPositiveResponse(uds []byte) bool {
	return len(uds) == 2 && uds[1]&0x80 != 0
}

// SendDiag sends a UDS request.
func (d *Diag) SendDiag(udsBytes []byte) error {
	return d.transport.SendDiag(udsBytes)
}

// ReceiveDiag waits for the next real UDS payload, silently continuing to
// wait through DoIP ACKs/no-ops and "response pending" negative responses.
// timeoutMs bounds each individual underlying read; the aggregate wait
// across repeated pending responses is bounded by MaxPendingWait (falling
// back to DefaultMaxPendingWaitMultiple * timeoutMs if unset).
func (d *Diag) ReceiveDiag(timeoutMs int) ([]byte, error) {
	maxWait := d.MaxPendingWait
	if maxWait <= 0 {
		maxWait = time.Duration(DefaultMaxPendingWaitMultiple*timeoutMs) * time.Millisecond
	}
	deadline := time.Now().Add(maxWait)

	for {
		payload, activationComplete, err := d.transport.Receive(timeoutMs)
		if err != nil {
			return nil, err
		}
		if activationComplete {
			// A stray routing-activation response or DoIP ACK slipped
			// through; keep waiting for the actual UDS payload.
			continue
		}
		if isResponsePending(payload) {
			log.Debugf("diag: response pending (NRC 0x78), continuing to wait")
			if time.Now().After(deadline) {
				return nil, soad.ErrTimedOut
			}
			continue
		}
		return payload, nil
	}
}

func isResponsePending(payload []byte) bool {
	return len(payload) == 3 && payload[0] == 0x7F && payload[2] == nrcResponsePending
}

// SendAndReceive sends a UDS request and, unless it is a suppressed
// request (IsSuppressPositiveResponse), waits for the response. For a
// suppressed request it instead makes one DoIP receive bounded by
// ackDrainTimeoutMs, which discards DoIP ACKs and returns on the first
// diagnostic payload or when that timeout elapses (an ACK alone does not
// end the wait), and then returns (nil, nil); timeoutMs is not used in
// that case (spec.md §4.3, §4.6).
func (d *Diag) SendAndReceive(udsBytes []byte, timeoutMs int) ([]byte, error) {
	if err := d.SendDiag(udsBytes); err != nil {
		return nil, err
	}
	if IsSuppressPositiveResponse(udsBytes) {
		d.drainAck()
		return nil, nil
	}
	return d.ReceiveDiag(timeoutMs)
}

func (d *Diag) drainAck() {
	_, _, err := d.transport.Receive(ackDrainTimeoutMs)
	if err != nil && !errors.Is(err, soad.ErrTimedOut) {
		log.Debugf("diag: drain after suppressed response: %v", err)
	}
}
