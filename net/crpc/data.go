package crpc

// RequestHeader precedes the CBOR-encoded argument of every call.
type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"` // "Service.Method"
}

// ResponseHeader precedes the reply. The reply body is only sent when Err is empty.
type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
