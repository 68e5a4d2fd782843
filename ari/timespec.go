package ari

import "time"

// dtnEpoch is the reference epoch for absolute DTN time points (TP
// literals): 2000-01-01T00:00:00Z, matching the DTN time convention the
// original agent's CBOR codec assumes for tag-4 decimal-fraction payloads.
var dtnEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Timespec is the value of a TP (absolute) or TD (relative) literal: a
// signed count of seconds since dtnEpoch (TP) or a signed duration (TD),
// plus a nanosecond fraction in the same direction as Sec.
type Timespec struct {
	Relative bool
	Sec      int64
	Nsec     int32
}

// TPAbs builds an absolute time-point Timespec from a wall-clock time.
func TPAbs(t time.Time) Timespec {
	d := t.Sub(dtnEpoch)
	return Timespec{Relative: false, Sec: int64(d / time.Second), Nsec: int32(d % time.Second)}
}

// TDRel builds a relative time-delta Timespec from a duration.
func TDRel(d time.Duration) Timespec {
	return Timespec{Relative: true, Sec: int64(d / time.Second), Nsec: int32(d % time.Second)}
}

// AsTime returns the absolute wall-clock time; valid only when !Relative.
func (t Timespec) AsTime() time.Time {
	return dtnEpoch.Add(time.Duration(t.Sec)*time.Second + time.Duration(t.Nsec))
}

// AsDuration returns the elapsed duration; valid for both TP (as offset
// from epoch) and TD (as the relative delta itself).
func (t Timespec) AsDuration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Nsec)
}

// Equal compares two timespecs structurally; a TP and a TD with the same
// numeric value are not equal (the Relative flag participates).
func (t Timespec) Equal(o Timespec) bool {
	return t.Relative == o.Relative && t.Sec == o.Sec && t.Nsec == o.Nsec
}

// Cmp orders timespecs with Relative as the primary key, matching Equal's
// treatment of TP and TD as distinct domains.
func (t Timespec) Cmp(o Timespec) int {
	if t.Relative != o.Relative {
		if !t.Relative {
			return -1
		}
		return 1
	}
	if t.Sec != o.Sec {
		if t.Sec < o.Sec {
			return -1
		}
		return 1
	}
	switch {
	case t.Nsec < o.Nsec:
		return -1
	case t.Nsec > o.Nsec:
		return 1
	default:
		return 0
	}
}

// Add returns a new relative Timespec offset by d; used by TBR scheduling.
func (t Timespec) Add(d time.Duration) Timespec {
	return TDRel(t.AsDuration() + d)
}
