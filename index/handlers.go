package index

import (
	"strings"

	"p2pci/registry"
	"p2pci/wire"

	log "github.com/sirupsen/logrus"
)

// dispatch selects a handler by the first three bytes of the request line. It runs on the loop.
func (s *Server) dispatch(c *conn, msg *wire.Message) *wire.Response {
	var handler func(*conn, *wire.Request) *wire.Response
	switch {
	case strings.HasPrefix(msg.Start, "ADD"):
		handler = s.handleAdd
	case strings.HasPrefix(msg.Start, "LOO"):
		handler = s.handleLookup
	case strings.HasPrefix(msg.Start, "LIS"):
		handler = s.handleList
	default:
		return wire.NewResponse(wire.StatusBadRequest)
	}

	req, err := wire.ParseRequest(msg)
	if err != nil {
		log.Debugf("Bad request from %s: %v", c.host, err)
		return wire.NewResponse(wire.StatusBadRequest)
	}
	if req.Version != wire.Version {
		return wire.NewResponse(wire.StatusVersionNotSupported)
	}
	return handler(c, req)
}

func (s *Server) handleAdd(c *conn, req *wire.Request) *wire.Response {
	n, err := req.RFC()
	if err != nil {
		return wire.NewResponse(wire.StatusBadRequest)
	}
	title, ok := req.Header.Get(wire.HeaderTitle)
	if !ok || title == "" {
		return wire.NewResponse(wire.StatusBadRequest)
	}
	host, ok := req.Header.Token(wire.HeaderHost)
	if !ok {
		return wire.NewResponse(wire.StatusBadRequest)
	}
	port, ok := req.Header.Int(wire.HeaderPort)
	if !ok || port == 0 || port > 65535 {
		return wire.NewResponse(wire.StatusBadRequest)
	}

	// Records are purged by host when the connection closes, so a connection may only add records
	// for the host it registered.
	if host != c.host {
		log.Warnf("Connection %d registered as %s tried to add RFC %d for %s", c.id, c.host, n, host)
		return wire.NewResponse(wire.StatusBadRequest)
	}

	rec := registry.DocumentRecord{Number: n, Title: title, Host: host, Port: port}
	s.registry.Documents.Insert(rec)
	log.Infof("%s added RFC %d %q", host, n, title)

	res := wire.NewResponse(wire.StatusOK)
	res.Records = []wire.Record{rec.Wire()}
	return res
}

func (s *Server) handleLookup(c *conn, req *wire.Request) *wire.Response {
	n, err := req.RFC()
	if err != nil {
		return wire.NewResponse(wire.StatusBadRequest)
	}

	recs := s.registry.Documents.FindByNumber(n)
	if len(recs) == 0 {
		return wire.NewResponse(wire.StatusNotFound)
	}
	res := wire.NewResponse(wire.StatusOK)
	for _, rec := range recs {
		res.Records = append(res.Records, rec.Wire())
	}
	return res
}

func (s *Server) handleList(c *conn, req *wire.Request) *wire.Response {
	res := wire.NewResponse(wire.StatusOK)
	for _, rec := range s.registry.Documents.All() {
		res.Records = append(res.Records, rec.Wire())
	}
	return res
}
