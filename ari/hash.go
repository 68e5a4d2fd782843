package ari

import (
	"math"

	"github.com/OneOfOne/xxhash"
)

// Hash computes a hash consistent with Equal (spec §4.1, invariant in
// spec §8: "equal(V,W) ⇒ hash(V)=hash(W)"), recursing into containers.
// It uses xxhash, the same hashing primitive the teacher repo uses for
// cluster-membership digests.
func (v Value) Hash() uint64 {
	h := xxhash.New64()
	v.hash(h)
	return h.Sum64()
}

func (v Value) hash(h *xxhash.XXHash64) {
	if v.isRef {
		_ = h.WriteByte(0xFF)
		hashObjPath(h, v.path)
		hashParams(h, v.params)
		return
	}
	_ = h.WriteByte(byte(v.prim))
	if v.hasType {
		_ = h.WriteByte(1)
		var b [2]byte
		b[0] = byte(v.typ)
		b[1] = byte(v.typ >> 8)
		_, _ = h.Write(b[:])
	} else {
		_ = h.WriteByte(0)
	}
	var b8 [8]byte
	switch v.prim {
	case PrimBool:
		if v.b {
			_ = h.WriteByte(1)
		} else {
			_ = h.WriteByte(0)
		}
	case PrimUint64:
		putUint64(b8[:], v.u)
		_, _ = h.Write(b8[:])
	case PrimInt64:
		putInt64(b8[:], v.i64)
		_, _ = h.Write(b8[:])
	case PrimFloat64:
		putUint64(b8[:], math.Float64bits(v.f64))
		_, _ = h.Write(b8[:])
	case PrimTextString:
		_, _ = h.WriteString(v.text)
	case PrimByteString:
		_, _ = h.Write(v.bytes)
	case PrimTimespec:
		if v.ts.Relative {
			_ = h.WriteByte(1)
		} else {
			_ = h.WriteByte(0)
		}
		putInt64(b8[:], v.ts.Sec)
		_, _ = h.Write(b8[:])
		putInt64(b8[:], int64(v.ts.Nsec))
		_, _ = h.Write(b8[:])
	case PrimContainer:
		if v.cont != nil {
			v.cont.hashContainer(h)
		}
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func hashObjPath(h *xxhash.XXHash64, p ObjectPath) {
	p.Org.hash(h)
	p.Model.hash(h)
	if p.HasRevision {
		_ = h.WriteByte(1)
		var b [8]byte
		putInt64(b[:], int64(p.Revision.Year)*10000+int64(p.Revision.Month)*100+int64(p.Revision.Day))
		_, _ = h.Write(b[:])
	} else {
		_ = h.WriteByte(0)
	}
	_ = h.WriteByte(byte(p.ObjType))
	p.ObjID.hash(h)
}

func hashParams(h *xxhash.XXHash64, g GivenParams) {
	_ = h.WriteByte(byte(g.State))
	switch g.State {
	case ParamsList:
		for i := range g.List {
			g.List[i].hash(h)
		}
	case ParamsMap:
		for i := range g.Map {
			k := g.Map[i].Key
			if k.ByIndex {
				_ = h.WriteByte(1)
				var b [8]byte
				putInt64(b[:], k.Index)
				_, _ = h.Write(b[:])
			} else {
				_ = h.WriteByte(0)
				_, _ = h.WriteString(k.Name)
			}
			g.Map[i].Value.hash(h)
		}
	}
}
