package netreplica

// BasicNetType is the fixed enum of serializable property/value types
// from §4.1 and §3 (Property): booleans, integer variants, real
// variants, quaternion, string, plus the two reference types that get
// rewritten on the wire.
type BasicNetType uint8

const (
	BasicNetTypeBoolean BasicNetType = iota
	BasicNetTypeInteger8
	BasicNetTypeInteger16
	BasicNetTypeInteger32
	BasicNetTypeInteger64
	BasicNetTypeReal
	BasicNetTypeReal2
	BasicNetTypeReal3
	BasicNetTypeReal4
	BasicNetTypeQuaternion
	BasicNetTypeString
	// BasicNetTypeCogReference is replaced with the referenced object's
	// NetObjectID on the wire (§4.1 "A Cog property is replaced with its
	// NetObjectId").
	BasicNetTypeCogReference
	// BasicNetTypeCogPath is replaced with its resolved string path.
	BasicNetTypeCogPath
)

func (t BasicNetType) String() string {
	switch t {
	case BasicNetTypeBoolean:
		return "Boolean"
	case BasicNetTypeInteger8:
		return "Integer8"
	case BasicNetTypeInteger16:
		return "Integer16"
	case BasicNetTypeInteger32:
		return "Integer32"
	case BasicNetTypeInteger64:
		return "Integer64"
	case BasicNetTypeReal:
		return "Real"
	case BasicNetTypeReal2:
		return "Real2"
	case BasicNetTypeReal3:
		return "Real3"
	case BasicNetTypeReal4:
		return "Real4"
	case BasicNetTypeQuaternion:
		return "Quaternion"
	case BasicNetTypeString:
		return "String"
	case BasicNetTypeCogReference:
		return "CogReference"
	case BasicNetTypeCogPath:
		return "CogPath"
	default:
		return "Unknown"
	}
}

// MaxStringLen bounds any string read through the variant codec so a
// corrupt length prefix can't trigger an unbounded allocation. It is
// separate from, and larger than, DefaultMaxMessageSize.
const MaxStringLen = 1 << 16

// WriteVariant serializes (enum BasicNetType, payload) per §4.1. Cog and
// CogPath values must already have been resolved into NetObjectID /
// string form by the caller (the replicator does this, not BitStream).
func (b *BitStream) WriteVariant(v PropertyValue) error {
	b.WriteUint8(uint8(v.Type))
	switch v.Type {
	case BasicNetTypeBoolean:
		b.WriteBool(v.Bool)
	case BasicNetTypeInteger8:
		b.WriteInt8(int8(v.Int))
	case BasicNetTypeInteger16:
		b.WriteInt16(int16(v.Int))
	case BasicNetTypeInteger32:
		b.WriteInt32(int32(v.Int))
	case BasicNetTypeInteger64:
		b.WriteInt64(v.Int)
	case BasicNetTypeReal:
		b.WriteFloat64(v.Real)
	case BasicNetTypeReal2:
		b.WriteReal2(v.Real2)
	case BasicNetTypeReal3:
		b.WriteReal3(v.Real3)
	case BasicNetTypeReal4:
		b.WriteReal4(v.Real4)
	case BasicNetTypeQuaternion:
		b.WriteReal4(v.Quat)
	case BasicNetTypeString:
		if len(v.Str) > MaxStringLen {
			return ErrMessageTooLarge
		}
		b.WriteString(v.Str)
	case BasicNetTypeCogReference:
		b.WriteUint64(uint64(v.CogRef))
	case BasicNetTypeCogPath:
		b.WriteString(v.CogPath)
	default:
		return NewScriptError("WriteVariant", "invalid net-property type")
	}
	return nil
}

// ReadVariant is the inverse of WriteVariant.
func (b *BitStream) ReadVariant() (PropertyValue, error) {
	raw, err := b.ReadUint8()
	if err != nil {
		return PropertyValue{}, err
	}
	t := BasicNetType(raw)
	v := PropertyValue{Type: t}
	switch t {
	case BasicNetTypeBoolean:
		v.Bool, err = b.ReadBool()
	case BasicNetTypeInteger8:
		var x int8
		x, err = b.ReadInt8()
		v.Int = int64(x)
	case BasicNetTypeInteger16:
		var x int16
		x, err = b.ReadInt16()
		v.Int = int64(x)
	case BasicNetTypeInteger32:
		var x int32
		x, err = b.ReadInt32()
		v.Int = int64(x)
	case BasicNetTypeInteger64:
		v.Int, err = b.ReadInt64()
	case BasicNetTypeReal:
		v.Real, err = b.ReadFloat64()
	case BasicNetTypeReal2:
		v.Real2, err = b.ReadReal2()
	case BasicNetTypeReal3:
		v.Real3, err = b.ReadReal3()
	case BasicNetTypeReal4:
		v.Real4, err = b.ReadReal4()
	case BasicNetTypeQuaternion:
		v.Quat, err = b.ReadReal4()
	case BasicNetTypeString:
		v.Str, err = b.ReadString(MaxStringLen)
	case BasicNetTypeCogReference:
		var x uint64
		x, err = b.ReadUint64()
		v.CogRef = CogID(x)
	case BasicNetTypeCogPath:
		v.CogPath, err = b.ReadString(MaxStringLen)
	default:
		return PropertyValue{}, NewScriptError("ReadVariant", "invalid net-property type on wire")
	}
	if err != nil {
		return PropertyValue{}, err
	}
	return v, nil
}
