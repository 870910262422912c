package encoding

import "strconv"

// ProtocolVersion identifies the capture format. It is reported alongside
// every buffer notification so consumers can detect format changes.
const ProtocolVersion = 1

// Tag values. The tag space is a single flat integer namespace: a handful of
// fixed control tags, two contiguous ranges for untyped stores (one slot per
// TypeCode), and an open-ended range for typed local stores where the local
// index is folded directly into the tag value. Local stores are by far the
// hottest record kind and folding the index saves one compact integer per
// record.
const (
	TagEndOfData                = 0  // zero-filled unwritten tail reads as this
	TagMethodEntry              = 1  // [method id]
	TagMethodEntryWithAddresses = 2  // [method id], address records follow
	TagLambdaEntry              = 3  // [method id, lambda id]
	TagStateMachineMethodEntry  = 4  // [method id, instance id (long)]
	TagStateMachineLambdaEntry  = 5  // [method id, lambda id, instance id (long)]
	TagReturn                   = 6  // no payload
	TagVariableAddress          = 7  // [slot (signed), address (long)]
	TagLocalAliasLocal          = 8  // [target local, source local]
	TagLocalAliasParameter      = 9  // [target local, source parameter]
	TagParameterAliasParameter  = 10 // [target parameter, source parameter]
	TagParameterStore           = 11 // [parameter index, value (width from metadata)]
	TagParameterUnmanagedStore  = 12 // [parameter index, raw blob (size from metadata)]
	TagLocalUnmanagedStore      = 13 // [local index, raw blob (size from metadata)]

	// TagUntypedLocalStoreBase+TypeCode tags an untyped local store:
	// [value (encoding per TypeCode), local index].
	TagUntypedLocalStoreBase = 16
	// TagUntypedParameterStoreBase+TypeCode tags an untyped parameter store:
	// [value (encoding per TypeCode), parameter index].
	TagUntypedParameterStoreBase = TagUntypedLocalStoreBase + uint32(TypeCodeCount)
	// TagLocalStoreBase+localIndex tags a typed local store: [value], with
	// the value width implied by the local's static type in the metadata.
	TagLocalStoreBase = TagUntypedParameterStoreBase + uint32(TypeCodeCount)
)

// MaxTrackedLocal is the largest local index whose typed store tag still
// fits the 4-byte compact tier. The hot-path encoder does not validate
// indices; the instrumentation selector enforces this bound instead.
const MaxTrackedLocal = MaxUint - TagLocalStoreBase

// TypeIdentity identifies a value's dynamic type for out-of-band resolution
// by the consumer: a 16-byte module version id plus a 4-byte metadata token.
type TypeIdentity struct {
	ModuleVersionID [16]byte
	MetadataToken   uint32
}

// TypeIdentitySize is the encoded size of a TypeIdentity.
const TypeIdentitySize = 20

// Kind is the logical record kind. It collapses the wire format's tag
// arithmetic: the decoder maps any tag in the untyped or typed store ranges
// back to one of these kinds plus a TypeCode or variable index.
type Kind byte

// Record kinds, payload fields in square brackets.
const (
	KindInvalid                 Kind = 0  // unused
	KindMethodEntry             Kind = 1  // [MethodID]
	KindMethodEntryAddresses    Kind = 2  // [MethodID]
	KindLambdaEntry             Kind = 3  // [MethodID, LambdaID]
	KindStateMachineEntry       Kind = 4  // [MethodID, InstanceID]
	KindStateMachineLambdaEntry Kind = 5  // [MethodID, LambdaID, InstanceID]
	KindReturn                  Kind = 6  // no fields
	KindVariableAddress         Kind = 7  // [Index (slot), Address]
	KindLocalAliasLocal         Kind = 8  // [Index, Source]
	KindLocalAliasParameter     Kind = 9  // [Index, Source]
	KindParameterAliasParameter Kind = 10 // [Index, Source]
	KindLocalStore              Kind = 11 // [Index, Code, Value/Str]
	KindParameterStore          Kind = 12 // [Index, Code, Value/Str]
	KindLocalUnmanagedStore     Kind = 13 // [Index, Blob]
	KindParameterUnmanagedStore Kind = 14 // [Index, Blob]
	KindUntypedLocalStore       Kind = 15 // [Index, Code, Value/Str/TypeID]
	KindUntypedParameterStore   Kind = 16 // [Index, Code, Value/Str/TypeID]
	KindCount                   Kind = 17
)

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

var kindNames = [...]string{
	"Invalid", "MethodEntry", "MethodEntryWithAddresses", "LambdaEntry",
	"StateMachineMethodEntry", "StateMachineLambdaEntry", "Return",
	"VariableAddress", "LocalAliasLocal", "LocalAliasParameter",
	"ParameterAliasParameter", "LocalStore", "ParameterStore",
	"LocalUnmanagedStore", "ParameterUnmanagedStore", "UntypedLocalStore",
	"UntypedParameterStore", "Count",
}

// Record is the decoded form of one wire record. Only the fields listed for
// the record's Kind are meaningful.
type Record struct {
	Kind Kind
	// Code is the value encoding for store records. For typed local and
	// parameter stores it is taken from the metadata; for untyped stores it
	// is recovered from the tag.
	Code TypeCode
	// MethodID, LambdaID and InstanceID identify entry records.
	MethodID   uint32
	LambdaID   uint32
	InstanceID uint64
	// Index is the target local or parameter index. For VariableAddress
	// records it is the signed slot: a local index when non-negative,
	// otherwise -1-parameterIndex.
	Index int32
	// Source is the source variable index of alias records.
	Source int32
	// Value holds the raw little-endian bits of fixed-width values.
	Value uint64
	// Address is the variable address recorded by VariableAddress records.
	Address uint64
	// Str holds the UTF-16LE payload of string and object forms. It aliases
	// the decoder's input buffer and is only valid until the next Decode.
	Str []byte
	// StrOffset is the offset of Str within the decoded buffer, or -1 when
	// the record has no string payload.
	StrOffset int
	// Blob holds the raw bytes of unmanaged stores. It aliases the decoder's
	// input buffer and is only valid until the next Decode.
	Blob []byte
	// TypeID is the dynamic type identity of object and enum forms.
	TypeID TypeIdentity
}

// ParameterSlot encodes a parameter index as a negative address-record slot.
func ParameterSlot(index int32) int32 { return -1 - index }

// IsParameterSlot reports whether an address-record slot names a parameter.
func IsParameterSlot(slot int32) bool { return slot < 0 }

// SlotIndex returns the local or parameter index named by an address-record
// slot.
func SlotIndex(slot int32) int32 {
	if slot < 0 {
		return -1 - slot
	}
	return slot
}
