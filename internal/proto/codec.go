package proto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize bounds every decoded payload.
const MaxMessageSize = 4 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("proto: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		IntDec:            cbor.IntDecConvertNone,
		MaxArrayElements:  10000,
		MaxMapPairs:       1000,
		MaxNestedLevels:   16,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("proto: cbor dec mode: %v", err))
	}
}

// Marshal encodes v canonically, so the same value always yields the same bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes b into v, rejecting unknown fields and oversized input.
func Unmarshal(b []byte, v any) error {
	if len(b) > MaxMessageSize {
		return fmt.Errorf("proto: message of %d bytes exceeds limit", len(b))
	}
	return decMode.Unmarshal(b, v)
}
