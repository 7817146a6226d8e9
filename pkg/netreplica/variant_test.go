package netreplica

import "testing"

func TestVariantRoundTrip(t *testing.T) {
	cases := []PropertyValue{
		{Type: BasicNetTypeBoolean, Bool: true},
		{Type: BasicNetTypeInteger32, Int: -42},
		{Type: BasicNetTypeReal, Real: 1.5},
		{Type: BasicNetTypeReal3, Real3: [3]float64{1, 2, 3}},
		{Type: BasicNetTypeQuaternion, Quat: [4]float64{0, 0, 0, 1}},
		{Type: BasicNetTypeString, Str: "archetype name"},
		{Type: BasicNetTypeCogReference, CogRef: 77},
		{Type: BasicNetTypeCogPath, CogPath: "/Level/Player"},
	}

	for _, c := range cases {
		b := NewBitStream()
		if err := b.WriteVariant(c); err != nil {
			t.Fatalf("write %v: %v", c.Type, err)
		}
		r := NewBitStreamFromBytes(b.Bytes())
		got, err := r.ReadVariant()
		if err != nil {
			t.Fatalf("read %v: %v", c.Type, err)
		}
		if got != c {
			t.Errorf("roundtrip mismatch for %v: got %+v want %+v", c.Type, got, c)
		}
	}
}

func TestWriteVariantRejectsInvalidType(t *testing.T) {
	b := NewBitStream()
	err := b.WriteVariant(PropertyValue{Type: BasicNetType(200)})
	if _, ok := err.(*ScriptError); !ok {
		t.Fatalf("expected *ScriptError, got %v", err)
	}
}
