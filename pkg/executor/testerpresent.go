package executor

import (
	"sync"
	"time"

	"github.com/banh1996/go-doip-tester/pkg/diag"
	log "github.com/sirupsen/logrus"
)

// testerPresentAckTimeoutMs is the timeout passed to SendAndReceive for
// each TesterPresent request. Because the request is suppressed,
// SendAndReceive drains with diag's own ackDrainTimeoutMs and does not use
// this value.
const testerPresentAckTimeoutMs = 1000

// testerPresentRequest is TesterPresent (SID 0x3E) with suppress-positive-
// response set (spec.md §4.6).
var testerPresentRequest = []byte{0x3E, 0x80}

// testerPresent is the background keep-alive loop. Start/Stop are
// idempotent, grounded on pkg/heartbeat's HBConsumer.Start/Stop shape and
// cmd/canopen/main.go's goroutine+channel background-loop pattern.
type testerPresent struct {
	mu      sync.Mutex
	running bool
	quit    chan struct{}
}

// start launches the keep-alive goroutine if not already running. send is
// called under the Session lock once per interval.
func (tp *testerPresent) start(interval time.Duration, send func() error) {
	tp.mu.Lock()
	if tp.running {
		tp.mu.Unlock()
		return
	}
	quit := make(chan struct{})
	tp.quit = quit
	tp.running = true
	tp.mu.Unlock()

	go tp.loop(interval, quit, send)
}

func (tp *testerPresent) stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.running {
		return
	}
	close(tp.quit)
	tp.running = false
}

func (tp *testerPresent) isRunning() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.running
}

func (tp *testerPresent) loop(interval time.Duration, quit chan struct{}, send func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := send(); err != nil {
				log.Debugf("executor: tester-present send failed, stopping keep-alive: %v", err)
				tp.stop()
				return
			}
		}
	}
}

// sendTesterPresent issues the suppressed TesterPresent request and drains
// its DoIP ACK, under the caller's lock.
func sendTesterPresent(d *diag.Diag) error {
	_, err := d.SendAndReceive(testerPresentRequest, testerPresentAckTimeoutMs)
	return err
}
