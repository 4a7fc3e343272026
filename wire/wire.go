// Package wire implements the P2P-CI text protocol shared by the index server and the peer transfer
// servers: a request or status line, "Name: value" header lines and a blank line terminator.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const Version = "P2P-CI/1.0"

const (
	MethodAdd    = "ADD"
	MethodLookup = "LOOKUP"
	MethodList   = "LIST"
	MethodGet    = "GET"
)

const (
	TargetRFC = "RFC"
	TargetAll = "ALL"
)

const (
	HeaderHost          = "Host"
	HeaderPort          = "Port"
	HeaderTitle         = "Title"
	HeaderOS            = "OS"
	HeaderDate          = "Date"
	HeaderLastModified  = "Last-Modified"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
)

// ContentType is the only content type the transfer servers emit.
const ContentType = "text/text"

// TimeFormat is used for the Date and Last-Modified transfer headers.
const TimeFormat = "2006-01-02 15:04:05"

const crlf = "\r\n"

var ErrMalformed = errors.New("wire: malformed message")

type Status int

const (
	StatusOK                  Status = 200
	StatusBadRequest          Status = 400
	StatusNotFound            Status = 404
	StatusVersionNotSupported Status = 505
)

func (s Status) Phrase() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "P2P-CI Not Found"
	case StatusVersionNotSupported:
		return "P2P-CI Version Not Supported"
	}
	return "Unknown"
}

// Field is a single "Name: value" header line.
type Field struct {
	Name  string
	Value string
}

// Header keeps fields in wire order. Lookups are linear, messages carry a handful of fields.
type Header []Field

// Get returns the full value of the first field called name. Values keep their internal spaces.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Token returns the first whitespace-delimited token of the named field.
func (h Header) Token(name string) (string, bool) {
	v, ok := h.Get(name)
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// Int parses the first token of the named field as a non-negative integer.
func (h Header) Int(name string) (int, bool) {
	tok, ok := h.Token(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// parseField splits a header line at the first colon. Lines without a colon or with an empty name
// are rejected as a whole.
func parseField(line string) (Field, bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return Field{}, false
	}
	name := strings.TrimSpace(line[:i])
	if name == "" || strings.ContainsAny(name, " \t") {
		return Field{}, false
	}
	return Field{Name: name, Value: strings.TrimSpace(line[i+1:])}, true
}

// Message is a framed but otherwise undecoded protocol message.
type Message struct {
	Start string   // Request or status line
	Lines []string // Remaining lines up to, not including, the blank terminator
}

// Request is a decoded ADD, LOOKUP, LIST or GET request.
type Request struct {
	Method  string
	Target  []string // "RFC <num>" or "ALL"
	Version string
	Header  Header
}

// NewRequest builds a request for RFC number n.
func NewRequest(method string, n int) *Request {
	return &Request{
		Method:  method,
		Target:  []string{TargetRFC, strconv.Itoa(n)},
		Version: Version,
	}
}

// NewListRequest builds a LIST ALL request.
func NewListRequest() *Request {
	return &Request{
		Method:  MethodList,
		Target:  []string{TargetAll},
		Version: Version,
	}
}

// ParseRequest decodes the request line and header fields of m. The document number is decoded
// lazily by RFC so that a version mismatch can be reported ahead of a bad number.
func ParseRequest(m *Message) (*Request, error) {
	fields := strings.Fields(m.Start)
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, m.Start)
	}

	req := &Request{
		Method:  fields[0],
		Target:  fields[1 : len(fields)-1],
		Version: fields[len(fields)-1],
	}
	for _, line := range m.Lines {
		f, ok := parseField(line)
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		req.Header = append(req.Header, f)
	}
	return req, nil
}

// RFC returns the document number of an "RFC <num>" target.
func (r *Request) RFC() (int, error) {
	if len(r.Target) != 2 || r.Target[0] != TargetRFC {
		return 0, fmt.Errorf("%w: target %q", ErrMalformed, strings.Join(r.Target, " "))
	}
	n, err := strconv.Atoi(r.Target[1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: document number %q", ErrMalformed, r.Target[1])
	}
	return n, nil
}

func (r *Request) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(r.Method)
	for _, t := range r.Target {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	b.WriteByte(' ')
	b.WriteString(r.Version)
	b.WriteString(crlf)
	writeHeader(&b, r.Header)
	b.WriteString(crlf)
	return b.Bytes()
}

func (r *Request) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

// Record is one index entry as it travels on the wire: "RFC <num> <title> <host> <port>".
type Record struct {
	Number int
	Title  string
	Host   string
	Port   int
}

func (r Record) String() string {
	return fmt.Sprintf("RFC %d %s %s %d", r.Number, r.Title, r.Host, r.Port)
}

// ParseRecord decodes a record line. Host and port are the last two tokens, everything between the
// number and the host is the title.
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != TargetRFC {
		return Record{}, fmt.Errorf("%w: record %q", ErrMalformed, line)
	}
	num, err := strconv.Atoi(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: record number %q", ErrMalformed, fields[1])
	}
	port, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: record port %q", ErrMalformed, fields[len(fields)-1])
	}
	return Record{
		Number: num,
		Title:  strings.Join(fields[2:len(fields)-2], " "),
		Host:   fields[len(fields)-2],
		Port:   port,
	}, nil
}

// Response is a status line followed by header fields (transfer protocol) or record lines (index
// protocol), and an optional body sized by Content-Length.
type Response struct {
	Version string
	Status  Status
	Phrase  string
	Header  Header
	Records []Record
	Body    []byte
}

func NewResponse(s Status) *Response {
	return &Response{Version: Version, Status: s, Phrase: s.Phrase()}
}

// ParseResponse decodes a framed response. The body, if any, is not part of the message and is
// read separately by Reader.ReadResponse.
func ParseResponse(m *Message) (*Response, error) {
	fields := strings.SplitN(strings.TrimSpace(m.Start), " ", 3)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, m.Start)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, fields[1])
	}

	res := &Response{Version: fields[0], Status: Status(code)}
	if len(fields) == 3 {
		res.Phrase = fields[2]
	}
	for _, line := range m.Lines {
		if strings.HasPrefix(line, TargetRFC+" ") {
			rec, err := ParseRecord(line)
			if err != nil {
				return nil, err
			}
			res.Records = append(res.Records, rec)
			continue
		}
		f, ok := parseField(line)
		if !ok {
			return nil, fmt.Errorf("%w: response line %q", ErrMalformed, line)
		}
		res.Header = append(res.Header, f)
	}
	return res, nil
}

func (r *Response) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %d %s%s", r.Version, int(r.Status), r.Phrase, crlf)
	writeHeader(&b, r.Header)
	for _, rec := range r.Records {
		b.WriteString(rec.String())
		b.WriteString(crlf)
	}
	b.WriteString(crlf)
	b.Write(r.Body)
	return b.Bytes()
}

func (r *Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

// WriteStatus writes a body-less response carrying only the status line.
func WriteStatus(w io.Writer, s Status) error {
	_, err := NewResponse(s).WriteTo(w)
	return err
}

func writeHeader(b *bytes.Buffer, h Header) {
	for _, f := range h {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString(crlf)
	}
}
