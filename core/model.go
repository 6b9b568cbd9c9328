// Package core implements the node-graph domain model: the tagged binary
// Model codec, Blake2b hashing and proof-of-work, ed25519 signing,
// certificates, and the Node/License record types built on top of them.
package core

import (
	"encoding/binary"
	"errors"
	"sort"
	"unicode/utf8"
)

// FieldType is the on-wire type of a Model field.
type FieldType uint8

const (
	TypeUint8 FieldType = iota
	TypeUint16
	TypeUint32
	TypeUint48
	TypeUint64
	TypeFixed8  // 8-byte fixed buffer
	TypeFixed32 // 32-byte fixed buffer
	TypeBuffer  // variable-length buffer, bounded by MaxSize
	TypeString  // utf-8 string, bounded by MaxSize
	TypeDisabled
)

func (t FieldType) fixedWidth() (int, bool) {
	switch t {
	case TypeUint8:
		return 1, true
	case TypeUint16:
		return 2, true
	case TypeUint32:
		return 4, true
	case TypeUint48:
		return 6, true
	case TypeUint64:
		return 8, true
	case TypeFixed8:
		return 8, true
	case TypeFixed32:
		return 32, true
	default:
		return 0, false
	}
}

// FieldDef describes one addressable field of a Model schema.
type FieldDef struct {
	Index     byte
	Name      string
	Type      FieldType
	MaxSize   int  // for TypeBuffer / TypeString
	Hash      bool // participates in the canonical digest
	Transient bool // excluded from persistence/hash unless explicitly opted in
}

// Schema is the ordered, index-addressed field list for one class of Model
// (a node or cert kind). Schemas are immutable once built.
type Schema struct {
	fields  []FieldDef
	byName  map[string]*FieldDef
	byIndex map[byte]*FieldDef
}

// NewSchema builds a schema from a field list, merging a base schema (pass
// nil for none) with subclass additions. Duplicate indices are a hard error,
// matching the constructor contract in §4.3.
func NewSchema(base *Schema, additions []FieldDef) (*Schema, error) {
	s := &Schema{byName: map[string]*FieldDef{}, byIndex: map[byte]*FieldDef{}}
	add := func(fd FieldDef) error {
		if _, dup := s.byIndex[fd.Index]; dup {
			return errors.New("core: duplicate field index " + string(rune('0'+fd.Index)))
		}
		cp := fd
		s.fields = append(s.fields, cp)
		s.byIndex[fd.Index] = &s.fields[len(s.fields)-1]
		s.byName[fd.Name] = &s.fields[len(s.fields)-1]
		return nil
	}
	if base != nil {
		for _, fd := range base.fields {
			if err := add(fd); err != nil {
				return nil, err
			}
		}
	}
	for _, fd := range additions {
		if err := add(fd); err != nil {
			return nil, err
		}
	}
	sort.Slice(s.fields, func(i, j int) bool { return s.fields[i].Index < s.fields[j].Index })
	// rebuild pointer maps after sort invalidated slice addresses
	s.byIndex = map[byte]*FieldDef{}
	s.byName = map[string]*FieldDef{}
	for i := range s.fields {
		s.byIndex[s.fields[i].Index] = &s.fields[i]
		s.byName[s.fields[i].Name] = &s.fields[i]
	}
	return s, nil
}

func (s *Schema) field(name string) (*FieldDef, bool) {
	fd, ok := s.byName[name]
	return fd, ok
}

// Header is the 6-byte type header prefixing every Model image.
type Header struct {
	PrimaryInterface   byte
	SecondaryInterface byte
	ClassID            byte
	ClassMajorVersion  byte
}

func (h Header) bytes() [6]byte {
	var b [6]byte
	b[0] = 0
	b[1] = h.PrimaryInterface
	b[2] = 0
	b[3] = h.SecondaryInterface
	b[4] = h.ClassID
	b[5] = h.ClassMajorVersion
	return b
}

// Model is a tagged, sparse, index-addressed record: the shared codec for
// nodes and certificates (§4.1).
type Model struct {
	schema *Schema
	header Header
	values map[byte][]byte // raw encoded bytes per set field index
}

// NewModel allocates an empty Model for schema with the given header.
func NewModel(schema *Schema, header Header) *Model {
	return &Model{schema: schema, header: header, values: map[byte][]byte{}}
}

func (m *Model) Schema() *Schema { return m.schema }
func (m *Model) Header() Header  { return m.header }

// Load decodes an image into a new Model against schema. When
// preserveTransient is false, bytes belonging to transient fields are
// discarded instead of stored.
func Load(schema *Schema, image []byte, preserveTransient bool) (*Model, error) {
	if len(image) < 6 {
		return nil, newDecodeErr(ShortRead, 0, -1)
	}
	if image[0] != 0 || image[2] != 0 {
		return nil, newDecodeErr(TypeMismatch, 0, -1)
	}
	m := &Model{
		schema: schema,
		header: Header{PrimaryInterface: image[1], SecondaryInterface: image[3], ClassID: image[4], ClassMajorVersion: image[5]},
		values: map[byte][]byte{},
	}
	pos := 6
	lastIndex := -1
	for pos < len(image) {
		fieldIndex := image[pos]
		pos++
		if int(fieldIndex) <= lastIndex {
			return nil, newDecodeErr(FieldOutOfOrder, pos-1, int(fieldIndex))
		}
		length, n := binary.Uvarint(image[pos:])
		if n <= 0 {
			return nil, newDecodeErr(ShortRead, pos, int(fieldIndex))
		}
		pos += n
		if pos+int(length) > len(image) {
			return nil, newDecodeErr(ShortRead, pos, int(fieldIndex))
		}
		value := image[pos : pos+int(length)]
		pos += int(length)

		fd, ok := schema.byIndex[fieldIndex]
		if !ok {
			return nil, newDecodeErr(UnknownField, pos, int(fieldIndex))
		}
		if fd.Type == TypeDisabled {
			return nil, newDecodeErr(DisabledField, pos, int(fieldIndex))
		}
		if fd.Transient && !preserveTransient {
			lastIndex = int(fieldIndex)
			continue
		}
		if err := validateFieldBytes(fd, value); err != nil {
			return nil, err
		}
		buf := make([]byte, len(value))
		copy(buf, value)
		m.values[fieldIndex] = buf
		lastIndex = int(fieldIndex)
	}
	return m, nil
}

func validateFieldBytes(fd *FieldDef, value []byte) error {
	if w, fixed := fd.Type.fixedWidth(); fixed {
		if len(value) != w {
			return newDecodeErr(TypeMismatch, 0, int(fd.Index))
		}
		return nil
	}
	switch fd.Type {
	case TypeBuffer:
		if fd.MaxSize > 0 && len(value) > fd.MaxSize {
			return newDecodeErr(ExceedsMaxSize, 0, int(fd.Index))
		}
	case TypeString:
		if fd.MaxSize > 0 && len(value) > fd.MaxSize {
			return newDecodeErr(ExceedsMaxSize, 0, int(fd.Index))
		}
		if !utf8.Valid(value) {
			return newDecodeErr(TypeMismatch, 0, int(fd.Index))
		}
	}
	return nil
}

// Export serializes the Model back to its wire image. Transient fields are
// omitted unless includeTransient is true.
func (m *Model) Export(includeTransient bool) ([]byte, error) {
	hdr := m.header.bytes()
	out := make([]byte, 0, 6+len(m.values)*4)
	out = append(out, hdr[:]...)

	indices := make([]int, 0, len(m.values))
	for idx := range m.values {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)

	var lenBuf [binary.MaxVarintLen64]byte
	for _, idx := range indices {
		fd, ok := m.schema.byIndex[byte(idx)]
		if !ok {
			return nil, newDecodeErr(UnknownField, len(out), idx)
		}
		if fd.Transient && !includeTransient {
			continue
		}
		value := m.values[byte(idx)]
		n := binary.PutUvarint(lenBuf[:], uint64(len(value)))
		out = append(out, byte(idx))
		out = append(out, lenBuf[:n]...)
		out = append(out, value...)
	}
	return out, nil
}

// fieldBytesForUint encodes an integer value into the raw field bytes.
func fieldBytesForUint(fd *FieldDef, v uint64) ([]byte, error) {
	w, fixed := fd.Type.fixedWidth()
	if !fixed || fd.Type == TypeFixed8 || fd.Type == TypeFixed32 {
		return nil, errors.New("core: field is not an integer type")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf[8-w:], nil
}

// SetUint writes an unsigned integer field (8/16/32/48/64-bit).
func (m *Model) SetUint(name string, v uint64) error {
	fd, ok := m.schema.field(name)
	if !ok {
		return errors.New("core: unknown field " + name)
	}
	if fd.Type == TypeDisabled {
		return &DecodeError{Kind: DisabledField, FieldIndex: int(fd.Index)}
	}
	b, err := fieldBytesForUint(fd, v)
	if err != nil {
		return err
	}
	if w, _ := fd.Type.fixedWidth(); w == 6 {
		// 48-bit: top two bytes of the 8-byte encoding must be zero.
		if v >= (1 << 48) {
			return &DecodeError{Kind: ExceedsMaxSize, FieldIndex: int(fd.Index)}
		}
	}
	m.values[fd.Index] = b
	return nil
}

// GetUint reads an unsigned integer field. ok is false if absent.
func (m *Model) GetUint(name string) (uint64, bool) {
	fd, ok := m.schema.field(name)
	if !ok || fd.Type == TypeDisabled {
		return 0, false
	}
	raw, ok := m.values[fd.Index]
	if !ok {
		return 0, false
	}
	var buf [8]byte
	copy(buf[8-len(raw):], raw)
	return binary.BigEndian.Uint64(buf[:]), true
}

// SetBytes writes a fixed (8/32-byte) or variable-length buffer field.
func (m *Model) SetBytes(name string, v []byte) error {
	fd, ok := m.schema.field(name)
	if !ok {
		return errors.New("core: unknown field " + name)
	}
	if fd.Type == TypeDisabled {
		return &DecodeError{Kind: DisabledField, FieldIndex: int(fd.Index)}
	}
	if err := validateFieldBytes(fd, v); err != nil {
		return err
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	m.values[fd.Index] = buf
	return nil
}

// GetBytes reads a buffer field. ok is false if absent.
func (m *Model) GetBytes(name string) ([]byte, bool) {
	fd, ok := m.schema.field(name)
	if !ok || fd.Type == TypeDisabled {
		return nil, false
	}
	raw, ok := m.values[fd.Index]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true
}

// SetString writes a utf-8 string field.
func (m *Model) SetString(name string, v string) error {
	return m.SetBytes(name, []byte(v))
}

// GetString reads a utf-8 string field.
func (m *Model) GetString(name string) (string, bool) {
	b, ok := m.GetBytes(name)
	if !ok {
		return "", false
	}
	return string(b), true
}

// Has reports whether a field is currently set.
func (m *Model) Has(name string) bool {
	fd, ok := m.schema.field(name)
	if !ok {
		return false
	}
	_, ok = m.values[fd.Index]
	return ok
}

// Clear removes a field's value.
func (m *Model) Clear(name string) {
	if fd, ok := m.schema.field(name); ok {
		delete(m.values, fd.Index)
	}
}

// Hash computes the canonical digest over every non-transient, currently-set
// field whose schema Hash flag is true, in ascending index order, skipping
// any field named in exclude. Each field contributes fieldIndex||value.
func (m *Model) Hash(exclude ...string) [32]byte {
	excluded := map[byte]bool{}
	for _, name := range exclude {
		if fd, ok := m.schema.field(name); ok {
			excluded[fd.Index] = true
		}
	}
	indices := make([]int, 0, len(m.values))
	for idx := range m.values {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)

	var parts [][]byte
	for _, idx := range indices {
		fd := m.schema.byIndex[byte(idx)]
		if fd == nil || fd.Transient || !fd.Hash || excluded[byte(idx)] {
			continue
		}
		parts = append(parts, []byte{byte(idx)}, m.values[byte(idx)])
	}
	return Blake2b256(parts...)
}

// FilterOp is a comparison operator for Cmp predicates.
type FilterOp uint8

const (
	OpEq FilterOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpBitSet
	OpBitClear
	OpHashEq
)

// Filter is one predicate of a Cmp call: field `Name` must satisfy `Op`
// against `Value` (a big-endian uint64 for numeric ops on integer fields
// and, for bit ops, the index of the bit to test; raw bytes for OpEq/OpNe
// on other fields; a Blake2b-256 digest for OpHashEq).
type Filter struct {
	Name  string
	Op    FilterOp
	Value []byte
}

// Cmp evaluates an ordered list of filters; all must hold. An absent field
// never satisfies any comparison.
func (m *Model) Cmp(filters []Filter) bool {
	for _, f := range filters {
		if !m.matchOne(f) {
			return false
		}
	}
	return true
}

func (m *Model) matchOne(f Filter) bool {
	fd, ok := m.schema.field(f.Name)
	if !ok {
		return false
	}
	raw, present := m.values[fd.Index]
	if !present {
		return false
	}
	switch f.Op {
	case OpBitSet, OpBitClear:
		v, _ := m.GetUint(f.Name)
		bitIndex := bytesToUint64(f.Value)
		mask := uint64(1) << bitIndex
		if f.Op == OpBitSet {
			return v&mask != 0
		}
		return v&mask == 0
	case OpHashEq:
		h := Blake2b256(raw)
		return bytesEqual(h[:], f.Value)
	default:
	}
	// numeric comparisons
	if _, fixed := fd.Type.fixedWidth(); fixed && fd.Type != TypeFixed8 && fd.Type != TypeFixed32 {
		lhs, _ := m.GetUint(f.Name)
		rhs := bytesToUint64(f.Value)
		switch f.Op {
		case OpEq:
			return lhs == rhs
		case OpNe:
			return lhs != rhs
		case OpLt:
			return lhs < rhs
		case OpLe:
			return lhs <= rhs
		case OpGt:
			return lhs > rhs
		case OpGe:
			return lhs >= rhs
		}
		return false
	}
	// byte-comparisons for buffer/string/fixed-buffer fields
	switch f.Op {
	case OpEq:
		return bytesEqual(raw, f.Value)
	case OpNe:
		return !bytesEqual(raw, f.Value)
	default:
		return false
	}
}

func bytesToUint64(b []byte) uint64 {
	var buf [8]byte
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
