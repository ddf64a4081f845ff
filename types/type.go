// Package types defines the FlowLang type system: the closed set of
// literal types and the typed signatures of native callbacks.
package types

//go:generate stringer -type=LiteralType -linecomment

// LiteralType identifies a FlowLang value type.
// Void is only valid as a return type.
type LiteralType uint8

const (
	Void           LiteralType = iota // void
	Boolean                           // bool
	Number                            // int
	String                            // string
	RegExp                            // regex
	IPAddress                         // ip
	Cidr                              // cidr
	Handler                           // handler
	NumberArray                       // int[]
	StringArray                       // string[]
	IPAddressArray                    // ip[]
	CidrArray                         // cidr[]
)

var typeNames = [...]string{
	Void:           "void",
	Boolean:        "bool",
	Number:         "int",
	String:         "string",
	RegExp:         "regex",
	IPAddress:      "ip",
	Cidr:           "cidr",
	Handler:        "handler",
	NumberArray:    "int[]",
	StringArray:    "string[]",
	IPAddressArray: "ip[]",
	CidrArray:      "cidr[]",
}

// String returns the FlowLang spelling of the type.
func (t LiteralType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "<invalid>"
}

// IsArray returns true for the array types.
func (t LiteralType) IsArray() bool {
	switch t {
	case NumberArray, StringArray, IPAddressArray, CidrArray:
		return true
	default:
		return false
	}
}

// ElemType returns the element type of an array type, or Void.
func (t LiteralType) ElemType() LiteralType {
	switch t {
	case NumberArray:
		return Number
	case StringArray:
		return String
	case IPAddressArray:
		return IPAddress
	case CidrArray:
		return Cidr
	default:
		return Void
	}
}

// ArrayOf returns the array type with element type t, or Void if no
// such array type exists.
func ArrayOf(t LiteralType) LiteralType {
	switch t {
	case Number:
		return NumberArray
	case String:
		return StringArray
	case IPAddress:
		return IPAddressArray
	case Cidr:
		return CidrArray
	default:
		return Void
	}
}

// IsScalar reports whether values of this type fit a single VM stack slot
// without reference semantics. Handler refs count as scalars.
func (t LiteralType) IsScalar() bool {
	switch t {
	case Boolean, Number, Handler:
		return true
	default:
		return false
	}
}

// Signed character codes used in the compact signature encoding.
// One rune per type, mirroring the order of the LiteralType constants.
var typeCodes = [...]rune{
	Void:           'V',
	Boolean:        'B',
	Number:         'I',
	String:         'S',
	RegExp:         'R',
	IPAddress:      'P',
	Cidr:           'C',
	Handler:        'H',
	NumberArray:    'i',
	StringArray:    's',
	IPAddressArray: 'p',
	CidrArray:      'c',
}

// Code returns the single-rune signature code of the type.
func (t LiteralType) Code() rune {
	if int(t) < len(typeCodes) {
		return typeCodes[t]
	}
	return '?'
}
