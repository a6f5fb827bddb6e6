// Package security implements UDS service 0x27 Security Access: a vendor
// registry plus the AES-128-CTR + CMAC mutual-authentication handshake
// (spec.md §4.4).
//
// Grounded on original_source/src/executor/securityaccess.rs's
// security_access_volvo function for the byte-level construction order and
// on pkg/can/bus.go's string-keyed registry pattern for vendor dispatch.
package security

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/banh1996/go-doip-tester/internal/textutil"
	"github.com/banh1996/go-doip-tester/pkg/diag"
	log "github.com/sirupsen/logrus"
)

const (
	ivLength           = 16
	randomNumberLength = 16
)

var clientRequestSeedMessageID = [2]byte{0x00, 0x01}
var authenticationMethod = [2]byte{0x00, 0x01}
var clientSendKeyMessageID = [2]byte{0x00, 0x03}

// Params holds the "key:value" action parameters a securityaccess_<hex>
// sequence item carries.
type Params struct {
	Algorithm                   string
	IV                          string
	EncryptionAuthenticationKey string
	ProofOfOwnershipKey         string
}

// ParseParams extracts Security Access parameters from a sequence item's
// action strings, skipping anything that isn't a "key:value" pair (mirrors
// the source's split(':') + len==2 filter).
func ParseParams(actions []string) Params {
	var p Params
	for _, a := range actions {
		parts := strings.SplitN(a, ":", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "algorithm":
			p.Algorithm = parts[1]
		case "iv":
			p.IV = parts[1]
		case "encryption_authentication_key":
			p.EncryptionAuthenticationKey = parts[1]
		case "proof_of_ownership_key":
			p.ProofOfOwnershipKey = parts[1]
		}
	}
	return p
}

// Scheme runs a vendor-specific Security Access handshake at the given
// odd level L, matching each round trip's response against the
// corresponding expect pattern.
type Scheme interface {
	Authenticate(d *diag.Diag, level uint8, params Params, expect []string, timeoutMs int) error
}

// NewSchemeFunc constructs a fresh Scheme instance.
type NewSchemeFunc func() Scheme

var registry = map[string]NewSchemeFunc{
	"volvo": func() Scheme { return &VolvoAES128{} },
}

// Lookup returns the Scheme registered for a config vendor tag.
func Lookup(vendor string) (Scheme, error) {
	newFn, ok := registry[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: unknown vendor %q", ErrConfigError, vendor)
	}
	return newFn(), nil
}

// VolvoAES128 implements the two-round-trip AES-128-CTR + CMAC handshake.
type VolvoAES128 struct{}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}
	return b, nil
}

// Authenticate performs Client Request Seed (level) then Client Send Key
// (level+1), per spec.md §4.4.
func (VolvoAES128) Authenticate(d *diag.Diag, level uint8, params Params, expect []string, timeoutMs int) error {
	if params.Algorithm != "AES128" {
		return fmt.Errorf("%w: unsupported security access algorithm %q", ErrConfigError, params.Algorithm)
	}
	if params.IV != "random" {
		return fmt.Errorf("%w: unsupported security access iv mode %q", ErrConfigError, params.IV)
	}

	eak, err := textutil.HexToBytes(params.EncryptionAuthenticationKey)
	if err != nil {
		return fmt.Errorf("%w: encryption_authentication_key: %v", ErrCryptoError, err)
	}
	pok, err := textutil.HexToBytes(params.ProofOfOwnershipKey)
	if err != nil {
		return fmt.Errorf("%w: proof_of_ownership_key: %v", ErrCryptoError, err)
	}

	clientRandom, err := randomBytes(randomNumberLength)
	if err != nil {
		return err
	}

	requestSeed, err := buildClientRequestSeed(level, eak, clientRandom)
	if err != nil {
		return err
	}

	seedResponse, err := sendAndMatch(d, requestSeed, expect, timeoutMs)
	if err != nil {
		return err
	}

	serverRandom, err := parseSeedResponse(seedResponse, eak)
	if err != nil {
		return err
	}

	sendKey, err := buildClientSendKey(level+1, eak, pok, clientRandom, serverRandom)
	if err != nil {
		return err
	}

	_, err = sendAndMatch(d, sendKey, expect, timeoutMs)
	return err
}

// buildClientRequestSeed assembles the 54-byte Client Request Seed payload:
// 38 bytes of header, IV and ciphertext followed by their 16-byte CMAC.
func buildClientRequestSeed(level uint8, eak, clientRandom []byte) ([]byte, error) {
	iv, err := randomBytes(ivLength)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, 52)
	payload = append(payload, 0x27, level)
	payload = append(payload, clientRequestSeedMessageID[:]...)
	payload = append(payload, authenticationMethod[:]...)
	payload = append(payload, iv...)

	ciphertext, err := ctrXOR(eak, iv, clientRandom)
	if err != nil {
		return nil, err
	}
	payload = append(payload, ciphertext...)

	tag, err := cmac(eak, payload)
	if err != nil {
		return nil, err
	}
	payload = append(payload, tag...)
	return payload, nil
}

// parseSeedResponse verifies the server CMAC and decrypts the server
// random number (spec.md §4.4's "Server Response parsing").
func parseSeedResponse(response, eak []byte) ([]byte, error) {
	if len(response) < ivLength {
		return nil, fmt.Errorf("%w: security access response too short", ErrConfigError)
	}
	splitAt := len(response) - blockSize
	serverTag := response[splitAt:]
	authenticatedPayload := response[:splitAt]

	if !verifyCMAC(eak, authenticatedPayload, serverTag) {
		return nil, ErrAuthenticationFailed
	}
	if len(authenticatedPayload) < 52 {
		return nil, fmt.Errorf("%w: security access authenticated payload too short", ErrConfigError)
	}

	serverIV := authenticatedPayload[4:20]
	encryptedServerPayload := authenticatedPayload[20:52]

	decrypted, err := ctrXOR(eak, serverIV, encryptedServerPayload)
	if err != nil {
		return nil, err
	}
	return decrypted[:randomNumberLength], nil
}

// buildClientSendKey assembles the Client Send Key payload (spec.md §4.4).
func buildClientSendKey(level uint8, eak, pok, clientRandom, serverRandom []byte) ([]byte, error) {
	proofInput := make([]byte, 0, 32)
	proofInput = append(proofInput, clientRandom...)
	proofInput = append(proofInput, serverRandom...)

	clientProofOfOwnership, err := cmac(pok, proofInput)
	if err != nil {
		return nil, err
	}

	iv, err := randomBytes(ivLength)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, 50)
	payload = append(payload, 0x27, level)
	payload = append(payload, clientSendKeyMessageID[:]...)
	payload = append(payload, iv...)

	ciphertext, err := ctrXOR(eak, iv, clientProofOfOwnership)
	if err != nil {
		return nil, err
	}
	payload = append(payload, ciphertext...)

	tag, err := cmac(eak, payload)
	if err != nil {
		return nil, err
	}
	payload = append(payload, tag...)
	return payload, nil
}

func sendAndMatch(d *diag.Diag, request []byte, expect []string, timeoutMs int) ([]byte, error) {
	if err := d.SendDiag(request); err != nil {
		return nil, err
	}
	var last []byte
	for _, pattern := range expect {
		response, err := d.ReceiveDiag(timeoutMs)
		if err != nil {
			return nil, err
		}
		log.Debugf("security: expect %s, received %s", pattern, fmt.Sprintf("%X", response))
		if !textutil.CompareExpectValue(pattern, response) {
			return nil, fmt.Errorf("%w: security access response did not match %q", ErrExpectMismatch, pattern)
		}
		last = response
	}
	return last, nil
}
