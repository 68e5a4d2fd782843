package ari

import (
	"sort"

	"github.com/OneOfOne/xxhash"
)

// Container is implemented by every boxed container kind held inside a
// literal Value (AC, AM, TBL, EXECSET, RPTSET, REPORT). Exactly one
// Value owns a given Container instance; Copy returns an independent
// deep copy per the ownership rule in spec §3.
type Container interface {
	containerKind() ARIType
	copyContainer() Container
	equalContainer(Container) bool
	cmpContainer(Container) int
	hashContainer(*xxhash.XXHash64)
	visitChildren(v *visitState, parent *Value)
}

// AC is an ordered list of ARI values (spec §3).
type AC struct {
	Items []Value
}

func NewAC(items []Value) *AC { return &AC{Items: items} }

func (a *AC) containerKind() ARIType { return TypeAC }

func (a *AC) copyContainer() Container {
	out := make([]Value, len(a.Items))
	for i, v := range a.Items {
		out[i] = v.Copy()
	}
	return &AC{Items: out}
}

func (a *AC) equalContainer(o Container) bool {
	ob, ok := o.(*AC)
	if !ok || len(a.Items) != len(ob.Items) {
		return false
	}
	for i := range a.Items {
		if !a.Items[i].Equal(ob.Items[i]) {
			return false
		}
	}
	return true
}

func (a *AC) cmpContainer(o Container) int {
	ob := o.(*AC)
	n := len(a.Items)
	if len(ob.Items) < n {
		n = len(ob.Items)
	}
	for i := 0; i < n; i++ {
		if c := a.Items[i].Cmp(ob.Items[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a.Items), len(ob.Items))
}

func (a *AC) hashContainer(h *xxhash.XXHash64) {
	for i := range a.Items {
		a.Items[i].hash(h)
	}
}

func (a *AC) visitChildren(v *visitState, parent *Value) {
	for i := range a.Items {
		v.walk(&a.Items[i], parent, false)
	}
}

// AMPair is one key/value entry of an AM container.
type AMPair struct {
	Key   Value
	Value Value
}

// AM is a map from ARI key to ARI value, kept sorted by key so that
// encoding is deterministic (spec §8 round-trip law). The text and CBOR
// decoders pass every key through NormalizeKey (non-text keys to unsigned
// 64-bit, text keys to lower-case, per §4.1); Set itself stores the key
// as given.
type AM struct {
	Pairs []AMPair
}

func NewAM() *AM { return &AM{} }

// NormalizeKey applies the AM key-normalisation rule of spec §4.1: text
// keys are case-folded, non-text keys are forced to PrimUint64. It
// reports false if a non-text key cannot be converted.
func NormalizeKey(k Value) (Value, bool) {
	if k.prim == PrimTextString {
		return Text(lowerASCII(k.text)), true
	}
	u, ok := k.asUint64()
	if !ok {
		return Value{}, false
	}
	return Uint(u), true
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// Set inserts or replaces a key/value pair, keeping Pairs sorted by key.
func (m *AM) Set(key, val Value) {
	i := sort.Search(len(m.Pairs), func(i int) bool { return m.Pairs[i].Key.Cmp(key) >= 0 })
	if i < len(m.Pairs) && m.Pairs[i].Key.Equal(key) {
		m.Pairs[i].Value = val
		return
	}
	m.Pairs = append(m.Pairs, AMPair{})
	copy(m.Pairs[i+1:], m.Pairs[i:])
	m.Pairs[i] = AMPair{Key: key, Value: val}
}

// Get looks up a key by binary search over the sorted pairs.
func (m *AM) Get(key Value) (Value, bool) {
	i := sort.Search(len(m.Pairs), func(i int) bool { return m.Pairs[i].Key.Cmp(key) >= 0 })
	if i < len(m.Pairs) && m.Pairs[i].Key.Equal(key) {
		return m.Pairs[i].Value, true
	}
	return Value{}, false
}

func (m *AM) containerKind() ARIType { return TypeAM }

func (m *AM) copyContainer() Container {
	out := make([]AMPair, len(m.Pairs))
	for i, p := range m.Pairs {
		out[i] = AMPair{Key: p.Key.Copy(), Value: p.Value.Copy()}
	}
	return &AM{Pairs: out}
}

func (m *AM) equalContainer(o Container) bool {
	ob, ok := o.(*AM)
	if !ok || len(m.Pairs) != len(ob.Pairs) {
		return false
	}
	for i := range m.Pairs {
		if !m.Pairs[i].Key.Equal(ob.Pairs[i].Key) || !m.Pairs[i].Value.Equal(ob.Pairs[i].Value) {
			return false
		}
	}
	return true
}

func (m *AM) cmpContainer(o Container) int {
	ob := o.(*AM)
	n := len(m.Pairs)
	if len(ob.Pairs) < n {
		n = len(ob.Pairs)
	}
	for i := 0; i < n; i++ {
		if c := m.Pairs[i].Key.Cmp(ob.Pairs[i].Key); c != 0 {
			return c
		}
		if c := m.Pairs[i].Value.Cmp(ob.Pairs[i].Value); c != 0 {
			return c
		}
	}
	return cmpInt(len(m.Pairs), len(ob.Pairs))
}

func (m *AM) hashContainer(h *xxhash.XXHash64) {
	for i := range m.Pairs {
		m.Pairs[i].Key.hash(h)
		m.Pairs[i].Value.hash(h)
	}
}

func (m *AM) visitChildren(v *visitState, parent *Value) {
	for i := range m.Pairs {
		v.walk(&m.Pairs[i].Key, parent, true)
		v.walk(&m.Pairs[i].Value, parent, false)
	}
}

// TBL is a column-major 2-D array with a fixed column count (spec §3).
type TBL struct {
	Columns int
	Rows    [][]Value
}

func NewTBL(columns int) *TBL { return &TBL{Columns: columns} }

// MoveRow appends row, failing if its length does not match Columns
// (spec §4.1 "TBL move-row").
func (t *TBL) MoveRow(row []Value) error {
	if len(row) != t.Columns {
		return errWrongRowSize(t.Columns, len(row))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *TBL) containerKind() ARIType { return TypeTBL }

func (t *TBL) copyContainer() Container {
	rows := make([][]Value, len(t.Rows))
	for i, row := range t.Rows {
		nr := make([]Value, len(row))
		for j, v := range row {
			nr[j] = v.Copy()
		}
		rows[i] = nr
	}
	return &TBL{Columns: t.Columns, Rows: rows}
}

func (t *TBL) equalContainer(o Container) bool {
	ob, ok := o.(*TBL)
	if !ok || t.Columns != ob.Columns || len(t.Rows) != len(ob.Rows) {
		return false
	}
	for i := range t.Rows {
		for j := range t.Rows[i] {
			if !t.Rows[i][j].Equal(ob.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func (t *TBL) cmpContainer(o Container) int {
	ob := o.(*TBL)
	if t.Columns != ob.Columns {
		return cmpInt(t.Columns, ob.Columns)
	}
	n := len(t.Rows)
	if len(ob.Rows) < n {
		n = len(ob.Rows)
	}
	for i := 0; i < n; i++ {
		for j := range t.Rows[i] {
			if c := t.Rows[i][j].Cmp(ob.Rows[i][j]); c != 0 {
				return c
			}
		}
	}
	return cmpInt(len(t.Rows), len(ob.Rows))
}

func (t *TBL) hashContainer(h *xxhash.XXHash64) {
	var b [8]byte
	putInt64(b[:], int64(t.Columns))
	_, _ = h.Write(b[:])
	for _, row := range t.Rows {
		for i := range row {
			row[i].hash(h)
		}
	}
}

func (t *TBL) visitChildren(v *visitState, parent *Value) {
	for i := range t.Rows {
		for j := range t.Rows[i] {
			v.walk(&t.Rows[i][j], parent, false)
		}
	}
}

// EXECSET is an inbound request envelope: a manager-chosen nonce plus an
// ordered list of execution targets (spec §3, §6).
type EXECSET struct {
	Nonce   Value
	Targets []Value
}

func (e *EXECSET) containerKind() ARIType { return TypeEXECSET }

func (e *EXECSET) copyContainer() Container {
	out := make([]Value, len(e.Targets))
	for i, v := range e.Targets {
		out[i] = v.Copy()
	}
	return &EXECSET{Nonce: e.Nonce.Copy(), Targets: out}
}

func (e *EXECSET) equalContainer(o Container) bool {
	ob, ok := o.(*EXECSET)
	if !ok || !e.Nonce.Equal(ob.Nonce) || len(e.Targets) != len(ob.Targets) {
		return false
	}
	for i := range e.Targets {
		if !e.Targets[i].Equal(ob.Targets[i]) {
			return false
		}
	}
	return true
}

func (e *EXECSET) cmpContainer(o Container) int {
	ob := o.(*EXECSET)
	if c := e.Nonce.Cmp(ob.Nonce); c != 0 {
		return c
	}
	n := len(e.Targets)
	if len(ob.Targets) < n {
		n = len(ob.Targets)
	}
	for i := 0; i < n; i++ {
		if c := e.Targets[i].Cmp(ob.Targets[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(e.Targets), len(ob.Targets))
}

func (e *EXECSET) hashContainer(h *xxhash.XXHash64) {
	e.Nonce.hash(h)
	for i := range e.Targets {
		e.Targets[i].hash(h)
	}
}

func (e *EXECSET) visitChildren(v *visitState, parent *Value) {
	v.walk(&e.Nonce, parent, false)
	for i := range e.Targets {
		v.walk(&e.Targets[i], parent, false)
	}
}

// REPORT is one produced report: a relative production time, the source
// object path that produced it, and the item list (spec §3).
type REPORT struct {
	RelTime Timespec
	Source  Value
	Items   []Value
}

func (r *REPORT) containerKind() ARIType { return TypeNone }

func (r *REPORT) copyContainer() Container {
	out := make([]Value, len(r.Items))
	for i, v := range r.Items {
		out[i] = v.Copy()
	}
	return &REPORT{RelTime: r.RelTime, Source: r.Source.Copy(), Items: out}
}

func (r *REPORT) equalContainer(o Container) bool {
	ob, ok := o.(*REPORT)
	if !ok || !r.RelTime.Equal(ob.RelTime) || !r.Source.Equal(ob.Source) || len(r.Items) != len(ob.Items) {
		return false
	}
	for i := range r.Items {
		if !r.Items[i].Equal(ob.Items[i]) {
			return false
		}
	}
	return true
}

func (r *REPORT) cmpContainer(o Container) int {
	ob := o.(*REPORT)
	if c := r.RelTime.Cmp(ob.RelTime); c != 0 {
		return c
	}
	if c := r.Source.Cmp(ob.Source); c != 0 {
		return c
	}
	n := len(r.Items)
	if len(ob.Items) < n {
		n = len(ob.Items)
	}
	for i := 0; i < n; i++ {
		if c := r.Items[i].Cmp(ob.Items[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(r.Items), len(ob.Items))
}

func (r *REPORT) hashContainer(h *xxhash.XXHash64) {
	var b [8]byte
	putInt64(b[:], r.RelTime.Sec)
	_, _ = h.Write(b[:])
	r.Source.hash(h)
	for i := range r.Items {
		r.Items[i].hash(h)
	}
}

func (r *REPORT) visitChildren(v *visitState, parent *Value) {
	v.walk(&r.Source, parent, false)
	for i := range r.Items {
		v.walk(&r.Items[i], parent, false)
	}
}

// RPTSET is an outbound response envelope: echoed nonce, reference time,
// and the aggregated list of reports produced against that nonce (spec
// §3, §4.8).
type RPTSET struct {
	Nonce   Value
	RefTime Timespec
	Reports []*REPORT
}

func (r *RPTSET) containerKind() ARIType { return TypeRPTSET }

func (r *RPTSET) copyContainer() Container {
	out := make([]*REPORT, len(r.Reports))
	for i, rep := range r.Reports {
		out[i] = rep.copyContainer().(*REPORT)
	}
	return &RPTSET{Nonce: r.Nonce.Copy(), RefTime: r.RefTime, Reports: out}
}

func (r *RPTSET) equalContainer(o Container) bool {
	ob, ok := o.(*RPTSET)
	if !ok || !r.Nonce.Equal(ob.Nonce) || !r.RefTime.Equal(ob.RefTime) || len(r.Reports) != len(ob.Reports) {
		return false
	}
	for i := range r.Reports {
		if !r.Reports[i].equalContainer(ob.Reports[i]) {
			return false
		}
	}
	return true
}

func (r *RPTSET) cmpContainer(o Container) int {
	ob := o.(*RPTSET)
	if c := r.Nonce.Cmp(ob.Nonce); c != 0 {
		return c
	}
	if c := r.RefTime.Cmp(ob.RefTime); c != 0 {
		return c
	}
	n := len(r.Reports)
	if len(ob.Reports) < n {
		n = len(ob.Reports)
	}
	for i := 0; i < n; i++ {
		if c := r.Reports[i].cmpContainer(ob.Reports[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(r.Reports), len(ob.Reports))
}

func (r *RPTSET) hashContainer(h *xxhash.XXHash64) {
	r.Nonce.hash(h)
	for _, rep := range r.Reports {
		rep.hashContainer(h)
	}
}

func (r *RPTSET) visitChildren(v *visitState, parent *Value) {
	v.walk(&r.Nonce, parent, false)
	for _, rep := range r.Reports {
		var repv Value
		repv.prim = PrimContainer
		repv.cont = rep
		v.walk(&repv, parent, false)
	}
}
