// Package config loads the process-wide tester Configuration (ethernet
// endpoint, DoIP addressing, session parameters) from a JSON file and
// exposes it behind a reader/writer lock so it can be swapped atomically.
//
// Grounded on glennswest-ipmiserial/config.Load's read-file-then-unmarshal
// shape, adapted for this tester's JSON wire format (spec.md §6) instead of
// YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Role identifies which side of the TCP connection this tester plays.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Ethernet holds the TCP endpoint and vendor selection.
type Ethernet struct {
	Interface  string `json:"interface,omitempty"`
	LocalIPv4  string `json:"local_ipv4,omitempty"`
	LocalIPv6  string `json:"local_ipv6,omitempty"`
	RemoteIP   string `json:"remote_ip"`
	RemotePort int    `json:"remote_port"`
	Role       Role   `json:"role"`
	Vendor     string `json:"vendor"`
}

// DoIP holds the protocol-level addressing fields, stored decoded from
// their hex-string wire representation.
type DoIP struct {
	Version         uint8  `json:"-"`
	InverseVersion  uint8  `json:"-"`
	TesterAddr      uint16 `json:"-"`
	EcuAddr         uint16 `json:"-"`
	SgaAddr         uint16 `json:"-"`
	ActivationCode  uint8  `json:"-"`
	VersionHex      string `json:"version"`
	InverseVerHex   string `json:"inverse_version"`
	TesterAddrHex   string `json:"tester_addr"`
	EcuAddrHex      string `json:"ecu_addr"`
	SgaAddrHex      string `json:"sga_addr"`
	ActivationCoHex string `json:"activation_code"`
}

// Parameters holds the session-level knobs that apply once connected.
type Parameters struct {
	VIN                   string `json:"vin"`
	TesterPresent         bool   `json:"tester_present"`
	TesterPresentInterval string `json:"tester_present_interval"`
}

// Configuration is the full, process-wide tester configuration.
type Configuration struct {
	Ethernet  Ethernet   `json:"ethernet"`
	DoIP      DoIP       `json:"doip"`
	Parameter Parameters `json:"parameter"`
}

// parseHex parses a hex string field with an optional "0x"/"0X" prefix
// into an unsigned integer of the given bit width.
func parseHex(field, s string, bits int) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(trimmed, 16, bits)
	if err != nil {
		return 0, fmt.Errorf("config: field %s: invalid hex value %q: %w", field, s, err)
	}
	return v, nil
}

// decodeHexFields fills in the numeric DoIP fields from their hex-string
// wire representation. Called after JSON unmarshalling.
func (c *Configuration) decodeHexFields() error {
	v, err := parseHex("doip.version", c.DoIP.VersionHex, 8)
	if err != nil {
		return err
	}
	c.DoIP.Version = uint8(v)

	v, err = parseHex("doip.inverse_version", c.DoIP.InverseVerHex, 8)
	if err != nil {
		return err
	}
	c.DoIP.InverseVersion = uint8(v)

	v, err = parseHex("doip.tester_addr", c.DoIP.TesterAddrHex, 16)
	if err != nil {
		return err
	}
	c.DoIP.TesterAddr = uint16(v)

	v, err = parseHex("doip.ecu_addr", c.DoIP.EcuAddrHex, 16)
	if err != nil {
		return err
	}
	c.DoIP.EcuAddr = uint16(v)

	v, err = parseHex("doip.sga_addr", c.DoIP.SgaAddrHex, 16)
	if err != nil {
		return err
	}
	c.DoIP.SgaAddr = uint16(v)

	v, err = parseHex("doip.activation_code", c.DoIP.ActivationCoHex, 8)
	if err != nil {
		return err
	}
	c.DoIP.ActivationCode = uint8(v)

	return nil
}

// Validate checks the fields that must be set for the tester to do
// anything useful, beyond what JSON unmarshalling alone guarantees.
func (c *Configuration) Validate() error {
	switch c.Ethernet.Role {
	case RoleClient, RoleServer:
	default:
		return fmt.Errorf("config: unknown ethernet.role %q", c.Ethernet.Role)
	}
	if c.Ethernet.RemoteIP == "" {
		return fmt.Errorf("config: ethernet.remote_ip is required")
	}
	if c.Ethernet.RemotePort <= 0 || c.Ethernet.RemotePort > 65535 {
		return fmt.Errorf("config: ethernet.remote_port %d out of range", c.Ethernet.RemotePort)
	}
	return nil
}

// Load reads and parses a Configuration from a JSON file at path.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := &Configuration{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.decodeHexFields(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Store holds the current Configuration behind a reader/writer lock so
// concurrent readers (pkg/executor's Session, on socket connect and
// security access lookups) never observe a partially written value, while writes
// (startup, reconfiguration while disconnected) swap the whole struct
// atomically.
type Store struct {
	mu  sync.RWMutex
	cfg *Configuration
}

// NewStore wraps an already-loaded Configuration.
func NewStore(cfg *Configuration) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current configuration snapshot. The returned pointer
// must be treated as read-only by the caller.
func (s *Store) Get() *Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set atomically replaces the configuration.
func (s *Store) Set(cfg *Configuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
