// Package executor dispatches sequence items to the transport/service
// layers and drives the tester-present keep-alive, folding what spec.md §5
// calls the Executor-lock and Socket-lock into a single Session lock (see
// SPEC_FULL.md §8; pkg/soad.Conn keeps its own mutex only as a safety net).
//
// Grounded on original_source/src/executor/mod.rs's name-dispatch table and
// pkg/nmt's "one object owns state behind one mutex, exposes named
// operations" shape, adapted from CANopen NMT transitions to sequence item
// names.
package executor

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banh1996/go-doip-tester/internal/textutil"
	"github.com/banh1996/go-doip-tester/pkg/config"
	"github.com/banh1996/go-doip-tester/pkg/diag"
	"github.com/banh1996/go-doip-tester/pkg/doip"
	"github.com/banh1996/go-doip-tester/pkg/security"
	"github.com/banh1996/go-doip-tester/pkg/sequence"
	"github.com/banh1996/go-doip-tester/pkg/soad"
	"github.com/banh1996/go-doip-tester/pkg/swdl"
	log "github.com/sirupsen/logrus"
)

// defaultTimeoutMs is used when a sequence item omits its timeout field.
const defaultTimeoutMs = 5000

// routingActivationWaitMs bounds how long send_doip:activation waits for
// the 0x0006 response.
const routingActivationWaitMs = 5000

// Session owns one tester connection end to end: the socket/DoIP/Diag
// stack, the security/SWDL service modules, and the tester-present
// keep-alive. All of it is serialized behind a single lock (mu) except the
// `delay` item, which releases the lock before sleeping (spec.md §3's
// invariant).
type Session struct {
	mu sync.Mutex

	cfg      *config.Store
	seqParam sequence.Parameters

	soadLayer *soad.Soad
	conn      *soad.Conn
	transport *doip.DoIP
	diagLayer *diag.Diag

	tp testerPresent
}

// NewSession creates a Session bound to cfg. No connection is made until a
// socket:connect item runs. cfg is read through on every lookup, so a
// reload via cfg.Set (while disconnected) takes effect on the next item.
func NewSession(cfg *config.Store) *Session {
	return &Session{cfg: cfg, soadLayer: soad.New()}
}

// RunSequence runs a sequence document's items in order. Per spec.md §4.6,
// the tester-present keep-alive actually starts once send_doip:activation
// completes successfully, gated on doc.Parameter.TesterPresent; §4.7's
// mention of starting it up front describes that same trigger, not an
// earlier one, since no Diag connection exists before activation. It stops
// and returns the first error encountered; the fail_handler is never
// executed in this revision (spec.md §4.7, §9).
func (s *Session) RunSequence(doc *sequence.Document) error {
	s.seqParam = doc.Parameter

	for _, item := range doc.Sequence {
		log.Debugf("executor: running item %q", item.Name)
		if err := s.RunItem(item); err != nil {
			return fmt.Errorf("executor: item %q: %w", item.Name, err)
		}
	}
	return nil
}

// RunItem dispatches a single sequence item by name (spec.md §4.6's
// name-dispatch table).
func (s *Session) RunItem(item sequence.Item) error {
	if item.Name == "delay" {
		return s.runDelay(item)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case item.Name == "socket":
		return s.runSocket(item)
	case item.Name == "send_doip":
		return s.runSendDoip(item)
	case item.Name == "send_diag":
		return s.runSendDiag(item)
	case strings.HasPrefix(item.Name, "securityaccess_"):
		return s.runSecurityAccess(item)
	case item.Name == "swdl":
		return s.runSwdl(item)
	default:
		log.Warnf("executor: unknown sequence item %q, ignoring", item.Name)
		return nil
	}
}

// runDelay sleeps for item.Timeout. It intentionally runs outside the
// Session lock so the tester-present keep-alive can still fire during a
// delay (spec.md §3's invariant, §5's ordering guarantee).
func (s *Session) runDelay(item sequence.Item) error {
	d, ok := textutil.ParseDuration(item.Timeout)
	if !ok {
		return fmt.Errorf("%w: invalid delay timeout %q", ErrConfigError, item.Timeout)
	}
	time.Sleep(d)
	return nil
}

func (s *Session) runSocket(item sequence.Item) error {
	if len(item.Action) != 1 {
		return fmt.Errorf("%w: socket item requires exactly one action", ErrConfigError)
	}
	switch item.Action[0] {
	case "connect":
		return s.connectLocked()
	case "disconnect":
		return s.disconnectLocked()
	default:
		return fmt.Errorf("%w: unknown socket action %q", ErrConfigError, item.Action[0])
	}
}

func (s *Session) connectLocked() error {
	cfg := s.cfg.Get()
	s.soadLayer.Init()
	ep := soad.Endpoint{
		Role:       soad.Role(cfg.Ethernet.Role),
		RemoteIP:   cfg.Ethernet.RemoteIP,
		RemotePort: cfg.Ethernet.RemotePort,
		LocalIPv4:  cfg.Ethernet.LocalIPv4,
	}
	conn, err := s.soadLayer.Connect(ep)
	if err != nil {
		return err
	}
	s.conn = conn
	s.transport = doip.New(conn, doip.Config{
		Version:        cfg.DoIP.Version,
		InverseVersion: cfg.DoIP.InverseVersion,
		TesterAddr:     cfg.DoIP.TesterAddr,
		EcuAddr:        cfg.DoIP.EcuAddr,
		ActivationCode: cfg.DoIP.ActivationCode,
	})
	s.diagLayer = diag.New(s.transport)
	return nil
}

func (s *Session) disconnectLocked() error {
	s.tp.stop()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Disconnect()
	s.conn = nil
	s.transport = nil
	s.diagLayer = nil
	return err
}

func (s *Session) runSendDoip(item sequence.Item) error {
	if s.transport == nil {
		return ErrNotConnected
	}
	if len(item.Action) != 1 || item.Action[0] != "activation" {
		return fmt.Errorf("%w: send_doip only supports the %q action", ErrConfigError, "activation")
	}

	if err := s.transport.SendRoutingActivation(); err != nil {
		return err
	}
	for !s.transport.RoutingActivated() {
		_, activationComplete, err := s.transport.Receive(routingActivationWaitMs)
		if err != nil {
			return err
		}
		if activationComplete {
			break
		}
	}

	if s.seqParam.TesterPresent {
		interval, ok := textutil.ParseDuration(s.seqParam.TesterPresentInterval)
		if !ok {
			return fmt.Errorf("%w: invalid tester_present_interval %q", ErrConfigError, s.seqParam.TesterPresentInterval)
		}
		s.tp.start(interval, func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.diagLayer == nil {
				return ErrNotConnected
			}
			return sendTesterPresent(s.diagLayer)
		})
	}
	return nil
}

func (s *Session) runSendDiag(item sequence.Item) error {
	if s.diagLayer == nil {
		return ErrNotConnected
	}
	timeoutMs := itemTimeoutMs(item)

	for i, actionHex := range item.Action {
		req, err := textutil.HexToBytes(actionHex)
		if err != nil {
			return fmt.Errorf("%w: send_diag action %q: %v", ErrConfigError, actionHex, err)
		}

		response, err := s.diagLayer.SendAndReceive(req, timeoutMs)
		if err != nil {
			return err
		}
		if diag.IsSuppressPositiveResponse(req) {
			continue
		}
		if i >= len(item.Expect) {
			continue
		}
		pattern := item.Expect[i]
		log.Debugf("executor: send_diag %s, expect %s, received %X", actionHex, pattern, response)
		if !textutil.CompareExpectValue(pattern, response) {
			return fmt.Errorf("%w: send_diag response to %q did not match %q", ErrExpectMismatch, actionHex, pattern)
		}
	}
	return nil
}

func (s *Session) runSecurityAccess(item sequence.Item) error {
	if s.diagLayer == nil {
		return ErrNotConnected
	}
	levelHex := strings.TrimPrefix(item.Name, "securityaccess_")
	level, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(levelHex, "0x"), "0X"), 16, 8)
	if err != nil {
		return fmt.Errorf("%w: securityaccess item name %q: %v", ErrConfigError, item.Name, err)
	}

	scheme, err := security.Lookup(s.cfg.Get().Ethernet.Vendor)
	if err != nil {
		return err
	}

	params := security.ParseParams(item.Action)
	return scheme.Authenticate(s.diagLayer, uint8(level), params, item.Expect, itemTimeoutMs(item))
}

func (s *Session) runSwdl(item sequence.Item) error {
	if s.diagLayer == nil {
		return ErrNotConnected
	}

	var path string
	for _, kv := range item.Action {
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == "path" {
			path = parts[1]
		}
	}
	if path == "" {
		return fmt.Errorf("%w: swdl item requires a %q parameter", ErrConfigError, "path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading vbf file %s: %v", ErrConfigError, path, err)
	}

	header, bodyOffset, err := swdl.ParseHeader(data)
	if err != nil {
		return err
	}

	body := bytes.NewReader(data[bodyOffset:])
	return swdl.Flash(s.diagLayer, header, body, swdl.DefaultMaxBufferLen, itemTimeoutMs(item))
}

func itemTimeoutMs(item sequence.Item) int {
	ms, ok := textutil.ParseDurationMillis(item.Timeout)
	if !ok {
		return defaultTimeoutMs
	}
	return int(ms)
}
