package scan

import (
	"context"
	"time"

	"github.com/yatesdr/cipscan/cip"
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/eip"
	"github.com/yatesdr/cipscan/logging"
)

// idleSleep is how long a worker with no enabled scan list sleeps before
// checking again (spec §5: "tens of ticks").
const idleSleep = 50 * time.Millisecond

// runWorker is the scan loop of spec §4.7, one goroutine per PLC. It
// never returns; Restart only disconnects and reconnects, it does not
// stop the goroutine (spec §5 cancellation policy).
func runWorker(ctx context.Context, p *PLC) {
	for {
		p.mu.Lock()
		if !p.connectedLocked() {
			if err := p.connectLocked(); err != nil {
				p.mu.Unlock()
				logging.DebugError("scan", "connect "+p.Name, err)
				time.Sleep(p.Timeout)
				continue
			}
			p.probeLocked()
		}
		earliest, disconnected := p.runPassLocked()
		p.mu.Unlock()

		if disconnected {
			continue
		}
		if earliest.IsZero() {
			time.Sleep(idleSleep)
			continue
		}
		if d := time.Until(earliest); d > 0 {
			time.Sleep(d)
		} else {
			// Deadline already passed by the time we got here: best-effort,
			// unlocked diagnostic counter (spec §9 open question).
			p.SlowScanCount++
		}
	}
}

func (p *PLC) connectLocked() error {
	conn := eip.NewConnection(p.Address, eip.DefaultPort, p.Slot, p.Timeout)
	if p.TransferBufferLimit > 0 {
		conn.TransferBufferLimit = p.TransferBufferLimit
	}
	if err := conn.Dial(); err != nil {
		p.ErrorCount++
		return err
	}
	p.conn = conn
	return nil
}

// probeLocked issues a single CIP_ReadData for every tag whose
// ReadReqSize is still 0, populating its cached wire sizes (spec §4.7
// step 2). Probe failures leave the tag's size at 0, so it continues to
// be skipped per invariant I5.
func (p *PLC) probeLocked() {
	for _, list := range p.scanLists {
		for _, t := range list.tags {
			readReq, _, _, _ := t.snapshotSizes()
			if readReq != 0 {
				continue
			}
			p.probeTagLocked(t)
		}
	}
}

func (p *PLC) probeTagLocked(t *TagInfo) {
	inner := cip.MessageRouterRequest{
		Service: cip.SvcReadData,
		Path:    t.Path,
		Data:    cip.BuildReadDataRequest(uint16(t.Elements)),
	}.Marshal()

	outer, err := cip.BuildUnconnectedSend(inner, 0, p.Slot)
	if err != nil {
		p.ErrorCount++
		return
	}
	respBytes, err := p.conn.SendRRData(outer)
	if err != nil {
		p.ErrorCount++
		return
	}
	resp, err := cip.ParseMessageRouterResponse(respBytes)
	if err != nil || !resp.OK() {
		p.ErrorCount++
		return
	}
	tc, _, err := cip.ParseReadDataResponse(resp.Data)
	if err != nil {
		return
	}
	t.setProbeSizes(len(inner), len(respBytes), tc)
}

// runPassLocked runs one scan pass over every due ScanList (spec §4.7
// steps 3-4), returning the earliest next deadline across enabled lists,
// or disconnected=true if a transfer error forced a reconnect mid-pass.
func (p *PLC) runPassLocked() (earliest time.Time, disconnected bool) {
	lists := p.sortedListsLocked()
	now := time.Now()

	for _, list := range lists {
		if !list.Enabled {
			continue
		}
		if !list.NextDeadline.IsZero() && list.NextDeadline.After(now) {
			continue
		}
		start := time.Now()
		err := p.runScanListLocked(list)
		list.recordDuration(time.Since(start))
		if err != nil {
			list.ErrorCount++
			p.ErrorCount++
			list.NextDeadline = start.Add(p.Timeout)
			logging.DebugError("scan", "scan list on "+p.Name, err)
			p.disconnectLocked()
			return time.Time{}, true
		}
		list.NextDeadline = start.Add(list.Period)
	}

	for _, list := range lists {
		if !list.Enabled {
			continue
		}
		if earliest.IsZero() || list.NextDeadline.Before(earliest) {
			earliest = list.NextDeadline
		}
	}
	return earliest, false
}

// runScanListLocked walks list in scan order, packing as many classified
// tags as fit under the connection's transfer buffer limit into
// successive CIP_MultiRequest transfers (spec §4.7 step 3, the batching
// guarantee of §4.7 and property P4).
func (p *PLC) runScanListLocked(list *ScanList) error {
	tags := list.tags
	limit := p.conn.TransferBufferLimit

	idx := 0
	for idx < len(tags) {
		batch, writes, payloads, typeCodes, next := p.classifyBatchLocked(tags, idx, limit)
		idx = next
		if len(batch) == 0 {
			continue
		}
		if err := p.sendBatchLocked(batch, writes, payloads, typeCodes); err != nil {
			return err
		}
	}
	return nil
}

// classifyBatchLocked scans tags starting at idx, classifying each as a
// write or a read and growing the batch while both the packed request
// and response sizes stay within limit. It returns the batch along with
// the index to resume scanning from.
func (p *PLC) classifyBatchLocked(tags []*TagInfo, idx, limit int) (batch []*TagInfo, writes []bool, payloads [][]byte, typeCodes []cip.TypeCode, next int) {
	reqSum, respSum := 0, 0
	j := idx
	for j < len(tags) && len(batch) < cip.MaxMultiRequestItems {
		t := tags[j]
		readReq, readResp, writeReq, writeResp := t.snapshotSizes()
		if readReq == 0 {
			j++ // invariant I5: unprobed tag, skip
			continue
		}

		write, payload, tc := t.classifyForPass()
		reqSize, respSize := readReq, readResp
		if write {
			if writeReq == 0 {
				// Not writable via this path: fail the write outright so
				// the consumer isn't left waiting on a write that can
				// never succeed.
				t.markSent()
				t.completeWrite(false)
				j++
				continue
			}
			reqSize, respSize = writeReq, writeResp
		}

		tentReq := reqSum + reqSize
		tentResp := respSum + respSize
		if cip.MultiRequestSize(len(batch)+1, tentReq) > limit || cip.MultiRequestSize(len(batch)+1, tentResp) > limit {
			t.abortClassification(write)
			if len(batch) == 0 {
				// Even alone this tag exceeds the limit (spec §9): skip
				// it this pass, leave its cached sizes as they are.
				j++
				continue
			}
			break
		}

		batch = append(batch, t)
		writes = append(writes, write)
		payloads = append(payloads, payload)
		typeCodes = append(typeCodes, tc)
		reqSum, respSum = tentReq, tentResp
		j++
	}
	return batch, writes, payloads, typeCodes, j
}

// sendBatchLocked builds one CIP_MultiRequest from batch, wraps it in a
// CM_Unconnected_Send/SendRRData transfer, and dissects the response
// into each tag in scan-list order (spec §4.7 step 3c-d).
func (p *PLC) sendBatchLocked(batch []*TagInfo, writes []bool, payloads [][]byte, typeCodes []cip.TypeCode) error {
	inners := make([][]byte, len(batch))
	for i, t := range batch {
		if writes[i] {
			inners[i] = cip.MessageRouterRequest{
				Service: cip.SvcWriteData,
				Path:    t.Path,
				Data:    cip.BuildWriteDataRequest(typeCodes[i], uint16(t.Elements), payloads[i]),
			}.Marshal()
		} else {
			inners[i] = cip.MessageRouterRequest{
				Service: cip.SvcReadData,
				Path:    t.Path,
				Data:    cip.BuildReadDataRequest(uint16(t.Elements)),
			}.Marshal()
		}
	}

	multiBody, err := cip.BuildMultiRequest(inners)
	if err != nil {
		return err
	}
	outerInner := cip.MessageRouterRequest{
		Service: cip.SvcMultiRequest,
		Path:    cip.MessageRouterPath(),
		Data:    multiBody,
	}.Marshal()
	outer, err := cip.BuildUnconnectedSend(outerInner, 0, p.Slot)
	if err != nil {
		return err
	}

	// The write's bytes are about to be handed to the transport: complete
	// the (1,1)->(0,1) transition (spec §5) before we block on I/O.
	for i, t := range batch {
		if writes[i] {
			t.markSent()
		}
	}

	respBytes, err := p.conn.SendRRData(outer)
	if err != nil {
		return err
	}
	resp, err := cip.ParseMessageRouterResponse(respBytes)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return resp.AsError()
	}
	items, err := cip.ParseMultiResponse(resp.Data)
	if err != nil {
		return err
	}
	if len(items) != len(batch) {
		return &ciperr.ProtocolErr{Reason: "multi-response item count does not match request"}
	}

	for i, t := range batch {
		itemResp, perr := cip.ParseMessageRouterResponse(items[i])
		ok := perr == nil && itemResp.OK()

		if writes[i] {
			t.completeWrite(ok)
			continue
		}
		if !ok {
			t.invalidate()
			continue
		}
		if t.pendingWriteNow() {
			// S5: a write was (re)scheduled after this tag's read was
			// classified; discard the payload, the write goes out next pass.
			continue
		}
		tc, data, perr2 := cip.ParseReadDataResponse(itemResp.Data)
		if perr2 != nil {
			t.invalidate()
			continue
		}
		t.storeRead(tc, data)
	}
	return nil
}
