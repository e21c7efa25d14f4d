package scan

import (
	"sync"
	"time"

	"github.com/yatesdr/cipscan/eip"
)

// PLC is one configured controller. It is owned by the process-wide
// Registry and, once created, is never destroyed (spec §5).
type PLC struct {
	mu sync.Mutex // the "PLC lock" of spec §5

	Name    string
	Address string
	Slot    byte
	Timeout time.Duration

	// TransferBufferLimit overrides eip.DefaultTransferBufferLimit for
	// this PLC's connection; 0 means use that default (spec §9).
	TransferBufferLimit int

	scanLists map[time.Duration]*ScanList

	conn *eip.Connection

	ErrorCount    uint64
	SlowScanCount uint64 // updated without the PLC lock (spec §9 open question)

	workerRunning bool
}

func newPLC(name, address string, slot byte, timeout time.Duration, transferBufferLimit int) *PLC {
	return &PLC{
		Name:                name,
		Address:             address,
		Slot:                slot,
		Timeout:             timeout,
		TransferBufferLimit: transferBufferLimit,
		scanLists:           make(map[time.Duration]*ScanList),
	}
}

// redefine overwrites address/slot on a repeat define_plc call (spec
// §4.6: idempotent insert, overwrites address/slot).
func (p *PLC) redefine(address string, slot byte) {
	p.mu.Lock()
	p.Address = address
	p.Slot = slot
	p.mu.Unlock()
}

// connectedLocked reports whether the PLC currently has an active connection
// (invariant I1: at most one Connection per PLC is ever active). Caller
// must hold p.mu.
func (p *PLC) connectedLocked() bool {
	return p.conn != nil && p.conn.IsOpen()
}

// disconnectLocked closes and clears the connection, invalidating every tag's
// valid_size (property P6). Caller must hold p.mu.
func (p *PLC) disconnectLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	for _, list := range p.scanLists {
		for _, t := range list.tags {
			t.invalidate()
		}
	}
}

// scanListAtLocked returns (creating if absent) the ScanList for exactly this
// period. Caller must hold p.mu.
func (p *PLC) scanListAtLocked(period time.Duration) *ScanList {
	if l, ok := p.scanLists[period]; ok {
		return l
	}
	l := newScanList(period)
	p.scanLists[period] = l
	return l
}

// findTagLocked searches every scan list for a tag with this symbolic
// name, returning the owning list, the tag, and its index within the
// list. Caller must hold p.mu.
func (p *PLC) findTagLocked(symbolic string) (*ScanList, *TagInfo, int) {
	for _, l := range p.scanLists {
		if i := l.indexOf(symbolic); i >= 0 {
			return l, l.tags[i], i
		}
	}
	return nil, nil, -1
}

// sortedListsLocked returns the PLC's scan lists ordered by period, for
// deterministic iteration within one scan pass. Caller must hold p.mu.
func (p *PLC) sortedListsLocked() []*ScanList {
	out := make([]*ScanList, 0, len(p.scanLists))
	for _, l := range p.scanLists {
		out = append(out, l)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Period < out[j-1].Period; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
