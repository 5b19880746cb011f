// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import "fmt"

// Version is the only protocol version this codec emits.
const Version = 1

// PayloadMarker separates the option list from the payload.
const PayloadMarker = 0xFF

// MaxTokenLength is the largest value of the 4-bit token-length field.
const MaxTokenLength = 15

// Type is the 2-bit message type.
type Type uint8

const (
	Confirmable Type = iota
	NonConfirmable
	Acknowledgement
	Reset
)

// String returns the RFC7252 abbreviation of the type.
func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Code is a method or response code packed as class<<5 | detail.
type Code uint8

const (
	Empty  Code = 0
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4

	Created  Code = 65
	Deleted  Code = 66
	Valid    Code = 67
	Changed  Code = 68
	Content  Code = 69
	Continue Code = 95

	BadRequest               Code = 128
	Unauthorized             Code = 129
	BadOption                Code = 130
	Forbidden                Code = 131
	NotFound                 Code = 132
	MethodNotAllowed         Code = 133
	NotAcceptable            Code = 134
	PreconditionFailed       Code = 140
	RequestEntityTooLarge    Code = 141
	UnsupportedContentFormat Code = 143

	InternalServerError  Code = 160
	NotImplemented       Code = 161
	BadGateway           Code = 162
	ServiceUnavailable   Code = 163
	GatewayTimeout       Code = 164
	ProxyingNotSupported Code = 165
)

var codeNames = map[Code]string{
	Empty:                    "Empty",
	GET:                      "GET",
	POST:                     "POST",
	PUT:                      "PUT",
	DELETE:                   "DELETE",
	Created:                  "Created",
	Deleted:                  "Deleted",
	Valid:                    "Valid",
	Changed:                  "Changed",
	Content:                  "Content",
	Continue:                 "Continue",
	BadRequest:               "Bad Request",
	Unauthorized:             "Unauthorized",
	BadOption:                "Bad Option",
	Forbidden:                "Forbidden",
	NotFound:                 "Not Found",
	MethodNotAllowed:         "Method Not Allowed",
	NotAcceptable:            "Not Acceptable",
	PreconditionFailed:       "Precondition Failed",
	RequestEntityTooLarge:    "Request Entity Too Large",
	UnsupportedContentFormat: "Unsupported Content-Format",
	InternalServerError:      "Internal Server Error",
	NotImplemented:           "Not Implemented",
	BadGateway:               "Bad Gateway",
	ServiceUnavailable:       "Service Unavailable",
	GatewayTimeout:           "Gateway Timeout",
	ProxyingNotSupported:     "Proxying Not Supported",
}

// Class returns the 3-bit class of the code.
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// Detail returns the 5-bit detail of the code.
func (c Code) Detail() uint8 {
	return uint8(c) & 0x1F
}

// IsRequest reports whether the code is a method code (class 0, non-empty).
func (c Code) IsRequest() bool {
	return c != Empty && c.Class() == 0
}

// String renders the code as "c.dd Name", e.g. "4.04 Not Found".
func (c Code) String() string {
	name, ok := codeNames[c]
	if !ok {
		name = "Unknown"
	}
	if c.IsRequest() {
		return name
	}
	return fmt.Sprintf("%d.%02d %s", c.Class(), c.Detail(), name)
}

// OptionID is an option number. Decoded numbers may exceed 16 bits because
// deltas accumulate.
type OptionID uint32

const (
	IfMatch       OptionID = 1
	URIHost       OptionID = 3
	ETag          OptionID = 4
	IfNoneMatch   OptionID = 5
	Observe       OptionID = 6
	URIPort       OptionID = 7
	LocationPath  OptionID = 8
	URIPath       OptionID = 11
	ContentFormat OptionID = 12
	MaxAge        OptionID = 14
	URIQuery      OptionID = 15
	Accept        OptionID = 17
	LocationQuery OptionID = 20
	ProxyURI      OptionID = 35
	ProxyScheme   OptionID = 39
	Size1         OptionID = 60
)

// MediaType is a Content-Format identifier.
type MediaType uint16

const (
	TextPlain      MediaType = 0
	AppLinkFormat  MediaType = 40
	AppXML         MediaType = 41
	AppOctetStream MediaType = 42
	AppJSON        MediaType = 50
	AppCBOR        MediaType = 60
)
