package core

import "testing"

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(nil, []FieldDef{
		{Index: 0, Name: "a", Type: TypeUint8, Hash: true},
		{Index: 1, Name: "b", Type: TypeFixed32, Hash: true},
		{Index: 2, Name: "c", Type: TypeBuffer, MaxSize: 16, Hash: true},
		{Index: 3, Name: "t", Type: TypeUint32, Transient: true},
		{Index: 4, Name: "s", Type: TypeString, MaxSize: 8, Hash: false},
	})
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return s
}

func TestSchemaDuplicateIndex(t *testing.T) {
	_, err := NewSchema(nil, []FieldDef{
		{Index: 0, Name: "a", Type: TypeUint8},
		{Index: 0, Name: "b", Type: TypeUint8},
	})
	if err == nil {
		t.Fatal("expected duplicate index error")
	}
}

func TestModelExportLoadRoundTrip(t *testing.T) {
	schema := testSchema(t)
	m := NewModel(schema, Header{PrimaryInterface: 1, SecondaryInterface: 2, ClassID: 3, ClassMajorVersion: 1})
	if err := m.SetUint("a", 7); err != nil {
		t.Fatal(err)
	}
	if err := m.SetBytes("b", make([]byte, 32)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetBytes("c", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := m.SetString("s", "hi"); err != nil {
		t.Fatal(err)
	}

	img, err := m.Export(false)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	m2, err := Load(schema, img, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, _ := m2.GetUint("a"); v != 7 {
		t.Errorf("a = %d, want 7", v)
	}
	if s, _ := m2.GetString("s"); s != "hi" {
		t.Errorf("s = %q, want hi", s)
	}
	if m2.Has("t") {
		t.Error("transient field t should be dropped without preserveTransient")
	}
}

func TestModelTransientPreserve(t *testing.T) {
	schema := testSchema(t)
	m := NewModel(schema, Header{})
	if err := m.SetUint("t", 99); err != nil {
		t.Fatal(err)
	}
	img, err := m.Export(true)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Load(schema, img, true)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := m2.GetUint("t"); !ok || v != 99 {
		t.Errorf("t = %d, %v; want 99, true", v, ok)
	}
}

func TestModelFieldOutOfOrder(t *testing.T) {
	schema := testSchema(t)
	img := []byte{0, 1, 0, 3, 4, 5} // header only
	img = append(img, 2, 1, 'x')    // field 2 then...
	img = append(img, 0, 1, 7)      // field 0 — out of order
	if _, err := Load(schema, img, false); err == nil {
		t.Fatal("expected FieldOutOfOrder error")
	}
}

func TestModelExceedsMaxSize(t *testing.T) {
	schema := testSchema(t)
	m := NewModel(schema, Header{})
	big := make([]byte, 17)
	if err := m.SetBytes("c", big); err == nil {
		t.Fatal("expected ExceedsMaxSize error")
	}
}

func TestModelHashExcludesTransientAndUnhashed(t *testing.T) {
	schema := testSchema(t)
	m := NewModel(schema, Header{})
	_ = m.SetUint("a", 1)
	_ = m.SetString("s", "unhashed")
	h1 := m.Hash()
	_ = m.SetString("s", "changed")
	h2 := m.Hash()
	if h1 != h2 {
		t.Error("hash should not depend on the non-hashed field s")
	}
	_ = m.SetUint("a", 2)
	h3 := m.Hash()
	if h1 == h3 {
		t.Error("hash should depend on the hashed field a")
	}
}

func TestModelCmpBitOps(t *testing.T) {
	schema := testSchema(t)
	m := NewModel(schema, Header{})
	_ = m.SetUint("a", 0b0101)
	filters := []Filter{{Name: "a", Op: OpBitSet, Value: []byte{0}}}
	if !m.Cmp(filters) {
		t.Error("expected bit 0 set")
	}
	filters = []Filter{{Name: "a", Op: OpBitClear, Value: []byte{1}}}
	if !m.Cmp(filters) {
		t.Error("expected bit 1 clear")
	}
}

func TestDisabledFieldRejected(t *testing.T) {
	schema, err := NewSchema(nil, []FieldDef{
		{Index: 0, Name: "x", Type: TypeDisabled},
	})
	if err != nil {
		t.Fatal(err)
	}
	m := NewModel(schema, Header{})
	if err := m.SetUint("x", 1); err == nil {
		t.Fatal("expected error setting disabled field")
	}
}
