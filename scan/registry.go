package scan

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/tagpath"
)

// Registry is the process-wide directory of PLCs (spec §4.6, §9: "a
// process-wide singleton with explicit init"). The zero value is usable;
// NewRegistry documents the intended construction path.
type Registry struct {
	mu   sync.Mutex // the "registry lock" of spec §5
	plcs map[string]*PLC

	defaultPeriod time.Duration
}

// NewRegistry constructs an empty Registry. A second construction is
// not a re-initialization of any shared global state — unlike the
// source's single global driver instance, this Registry is an ordinary
// value the caller owns, so there is nothing to warn about on "double
// init" (spec §9); callers that want a single process-wide instance
// simply keep one Registry alive for the process lifetime.
func NewRegistry(defaultPeriod time.Duration) *Registry {
	return &Registry{
		plcs:          make(map[string]*PLC),
		defaultPeriod: defaultPeriod,
	}
}

// DefinePLC idempotently inserts a PLC by name, overwriting address/slot
// on repeat (spec §4.6, property P7). transferBufferLimit overrides
// eip.DefaultTransferBufferLimit for this PLC's connection; 0 uses that
// default (spec §9).
func (r *Registry) DefinePLC(name, address string, slot byte, timeout time.Duration, transferBufferLimit int) *PLC {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.plcs[name]; ok {
		p.redefine(address, slot)
		return p
	}
	if r.plcs == nil {
		r.plcs = make(map[string]*PLC)
	}
	p := newPLC(name, address, slot, timeout, transferBufferLimit)
	r.plcs[name] = p
	return p
}

// FindPLC looks up a PLC by name.
func (r *Registry) FindPLC(name string) *PLC {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plcs[name]
}

// AddTag locates-or-creates a ScanList at exactly period on plc and
// ensures symbolic is a member, moving it from a slower list if one
// already holds it, or maximizing elements in place if it is already on
// a faster-or-equal list (spec §4.6, invariant I2, property P7).
func (r *Registry) AddTag(plc *PLC, period time.Duration, symbolic string, elements uint32) (*TagInfo, error) {
	if period <= 0 {
		return nil, &ciperr.ParseErr{Reason: "scan period must be > 0"}
	}
	if elements == 0 {
		elements = 1
	}
	parsed, err := tagpath.Parse(symbolic)
	if err != nil {
		return nil, err
	}
	path, err := tagpath.Encode(parsed)
	if err != nil {
		return nil, err
	}

	plc.mu.Lock()
	defer plc.mu.Unlock()

	if existingList, existing, _ := plc.findTagLocked(symbolic); existing != nil {
		if elements > existing.Elements {
			existing.Elements = elements
		}
		if existingList.Period <= period {
			return existing, nil
		}
		idx := existingList.indexOf(symbolic)
		existingList.removeAt(idx)
		dest := plc.scanListAtLocked(period)
		dest.append(existing)
		return existing, nil
	}

	tag := newTagInfo(symbolic, parsed, path, elements)
	list := plc.scanListAtLocked(period)
	list.append(tag)
	return tag, nil
}

// RegisterCallback registers fn/arg on tag (spec §4.6).
func (r *Registry) RegisterCallback(plc *PLC, tag *TagInfo, fn CallbackFunc, arg interface{}) {
	tag.RegisterCallback(fn, arg)
}

// UnregisterCallback removes fn/arg from tag, if present.
func (r *Registry) UnregisterCallback(plc *PLC, tag *TagInfo, fn CallbackFunc, arg interface{}) {
	tag.UnregisterCallback(fn, arg)
}

// Restart disconnects every PLC and ensures each has a running worker,
// returning the number of workers newly spawned (spec §4.6). Connecting
// is itself deferred to each worker's own loop; Restart only tears down
// existing connections and launches missing goroutines, using an
// errgroup so a panic surfaced by one spawn does not strand the others.
func (r *Registry) Restart(ctx context.Context) (int, error) {
	r.mu.Lock()
	plcs := make([]*PLC, 0, len(r.plcs))
	for _, p := range r.plcs {
		plcs = append(plcs, p)
	}
	r.mu.Unlock()

	var spawned int
	var spawnedMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plcs {
		p := p
		g.Go(func() error {
			p.mu.Lock()
			p.disconnectLocked()
			needsWorker := !p.workerRunning
			if needsWorker {
				p.workerRunning = true
			}
			p.mu.Unlock()

			if needsWorker {
				spawnedMu.Lock()
				spawned++
				spawnedMu.Unlock()
				go runWorker(gctx, p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return spawned, err
	}
	return spawned, nil
}

// ResetStatistics zeroes every PLC's and ScanList's error counters.
func (r *Registry) ResetStatistics() {
	r.mu.Lock()
	plcs := make([]*PLC, 0, len(r.plcs))
	for _, p := range r.plcs {
		plcs = append(plcs, p)
	}
	r.mu.Unlock()

	for _, p := range plcs {
		p.mu.Lock()
		p.ErrorCount = 0
		p.SlowScanCount = 0
		for _, l := range p.scanLists {
			l.ErrorCount = 0
			l.MinDuration, l.MaxDuration, l.LastDuration = 0, 0, 0
		}
		p.mu.Unlock()
	}
}

// Report writes a verbosity-scaled diagnostic summary to w. level 0..10:
// 0 and 1 print nothing; 2+ includes per-PLC error counts; 5+ includes every
// scan list; 10 includes every tag (spec §6).
func (r *Registry) Report(level int, w io.Writer) {
	if level < 2 {
		return
	}
	r.mu.Lock()
	names := make([]string, 0, len(r.plcs))
	for name := range r.plcs {
		names = append(names, name)
	}
	sort.Strings(names)
	plcs := r.plcs
	r.mu.Unlock()

	for _, name := range names {
		p := plcs[name]
		p.mu.Lock()
		connected := p.connectedLocked()
		fmt.Fprintf(w, "plc %s: address=%s slot=%d connected=%v errors=%d slow_scans=%d\n",
			p.Name, p.Address, p.Slot, connected, p.ErrorCount, p.SlowScanCount)
		if level >= 5 {
			for _, l := range p.sortedListsLocked() {
				fmt.Fprintf(w, "  scan_list period=%s enabled=%v errors=%d tags=%d\n",
					l.Period, l.Enabled, l.ErrorCount, len(l.tags))
				if level >= 10 {
					for _, t := range l.tags {
						_, _, ok := t.ReadValue()
						fmt.Fprintf(w, "    tag %s elements=%d valid=%v\n", t.Symbolic, t.Elements, ok)
					}
				}
			}
		}
		p.mu.Unlock()
	}
}

// PLCStatus is a machine-readable snapshot of one PLC's connection and
// error counters, for JSON consumers such as httpapi (spec §4.6, §6).
type PLCStatus struct {
	Name          string
	Address       string
	Slot          byte
	Connected     bool
	ErrorCount    uint64
	SlowScanCount uint64
}

// Snapshot returns a PLCStatus for every defined PLC, sorted by name.
func (r *Registry) Snapshot() []PLCStatus {
	r.mu.Lock()
	names := make([]string, 0, len(r.plcs))
	for name := range r.plcs {
		names = append(names, name)
	}
	sort.Strings(names)
	plcs := r.plcs
	r.mu.Unlock()

	out := make([]PLCStatus, 0, len(names))
	for _, name := range names {
		p := plcs[name]
		p.mu.Lock()
		out = append(out, PLCStatus{
			Name:          p.Name,
			Address:       p.Address,
			Slot:          p.Slot,
			Connected:     p.connectedLocked(),
			ErrorCount:    p.ErrorCount,
			SlowScanCount: p.SlowScanCount,
		})
		p.mu.Unlock()
	}
	return out
}

// StatusFor returns the single named PLC's status, if defined.
func (r *Registry) StatusFor(name string) (PLCStatus, bool) {
	p := r.FindPLC(name)
	if p == nil {
		return PLCStatus{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PLCStatus{
		Name:          p.Name,
		Address:       p.Address,
		Slot:          p.Slot,
		Connected:     p.connectedLocked(),
		ErrorCount:    p.ErrorCount,
		SlowScanCount: p.SlowScanCount,
	}, true
}

// TagDump is one entry of Dump's snapshot: a configured tag's PLC,
// symbolic name, element count, and whether it currently holds valid
// data (its value itself is not included) (spec §4.6, §6).
type TagDump struct {
	PLC      string
	Symbolic string
	Elements uint32
	Valid    bool
}

// Dump walks the registry and every PLC's scan lists under their
// respective locks, in increasing lock rank (registry then plc then
// tag), per spec §5.
func (r *Registry) Dump() []TagDump {
	r.mu.Lock()
	plcs := make([]*PLC, 0, len(r.plcs))
	for _, p := range r.plcs {
		plcs = append(plcs, p)
	}
	r.mu.Unlock()

	var out []TagDump
	for _, p := range plcs {
		p.mu.Lock()
		for _, l := range p.scanLists {
			for _, t := range l.tags {
				_, _, ok := t.ReadValue()
				out = append(out, TagDump{PLC: p.Name, Symbolic: t.Symbolic, Elements: t.Elements, Valid: ok})
			}
		}
		p.mu.Unlock()
	}
	return out
}
