package scan

import "time"

// ScanList is a bucket of TagInfos sharing the same scan period. It is
// owned by exactly one PLC and, once created, is never destroyed (spec
// §5 shared-resource policy) — this lets the worker walk it under only
// the PLC lock.
type ScanList struct {
	Period time.Duration

	Enabled      bool
	NextDeadline time.Time

	MinDuration  time.Duration
	MaxDuration  time.Duration
	LastDuration time.Duration
	ErrorCount   uint64

	tags []*TagInfo
}

func newScanList(period time.Duration) *ScanList {
	return &ScanList{
		Period:       period,
		Enabled:      true,
		NextDeadline: time.Time{},
	}
}

func (l *ScanList) indexOf(symbolic string) int {
	for i, t := range l.tags {
		if t.Symbolic == symbolic {
			return i
		}
	}
	return -1
}

func (l *ScanList) removeAt(i int) *TagInfo {
	t := l.tags[i]
	l.tags = append(l.tags[:i], l.tags[i+1:]...)
	return t
}

func (l *ScanList) append(t *TagInfo) {
	l.tags = append(l.tags, t)
}

// Tags returns the list's TagInfos in scan order. The caller must hold
// the owning PLC's lock.
func (l *ScanList) Tags() []*TagInfo {
	out := make([]*TagInfo, len(l.tags))
	copy(out, l.tags)
	return out
}

func (l *ScanList) recordDuration(d time.Duration) {
	l.LastDuration = d
	if l.MinDuration == 0 || d < l.MinDuration {
		l.MinDuration = d
	}
	if d > l.MaxDuration {
		l.MaxDuration = d
	}
}
