// Package crpc is a small CBOR-framed RPC in the style of net/rpc. Services are registered by
// reflection; every method must have the shape func(*Args, *Reply) error.
package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type method struct {
	rcvr      reflect.Value
	fn        reflect.Value
	argType   reflect.Type
	replyType reflect.Type
}

type service struct {
	methods map[string]*method
}

type Server struct {
	listener net.Listener
	services sync.Map // name -> *service
}

func NewServer(listener net.Listener) *Server {
	return &Server{listener: listener}
}

func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Register publishes the exported methods of rcvr under the name of its type.
func (srv *Server) Register(rcvr any) error {
	v := reflect.ValueOf(rcvr)
	name := reflect.Indirect(v).Type().Name()
	if name == "" || !token.IsExported(name) {
		return fmt.Errorf("crpc: type %s is not exported", v.Type())
	}

	svc := &service{methods: make(map[string]*method)}
	typ := v.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type
		if !m.IsExported() || mt.NumIn() != 3 || mt.NumOut() != 1 {
			continue
		}
		if mt.In(2).Kind() != reflect.Pointer || mt.Out(0) != reflect.TypeOf((*error)(nil)).Elem() {
			log.Debugf("crpc: skipping %s.%s, unsuitable signature", name, m.Name)
			continue
		}
		svc.methods[m.Name] = &method{rcvr: v, fn: m.Func, argType: mt.In(1), replyType: mt.In(2)}
		log.Debugf("crpc: registered %s.%s", name, m.Name)
	}
	if len(svc.methods) == 0 {
		return fmt.Errorf("crpc: type %s has no suitable methods", name)
	}

	if _, dup := srv.services.LoadOrStore(name, svc); dup {
		return fmt.Errorf("crpc: service %s already registered", name)
	}
	return nil
}

// Serve accepts connections until ctx is cancelled.
func (srv *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := srv.listener.Close(); err != nil {
			log.Warnf("crpc: closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = max(5*time.Millisecond, min(2*tempDelay, time.Second))
				log.Warnf("crpc: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		log.Debugf("crpc: accepted %s", conn.RemoteAddr())
		go srv.serveConn(ctx, conn)
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	dec := cbor.NewDecoder(conn)
	enc := cbor.NewEncoder(conn)
	for {
		var req RequestHeader
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Errorf("crpc: reading request from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		res := &ResponseHeader{Seq: req.Seq}
		m, err := srv.lookup(req.Method)
		if err != nil {
			// The argument still has to be consumed to keep the stream in sync
			var discard cbor.RawMessage
			if err := dec.Decode(&discard); err != nil {
				return
			}
			res.Err = err.Error()
			if err := enc.Encode(res); err != nil {
				return
			}
			continue
		}

		argv := reflect.New(m.argType)
		if m.argType.Kind() == reflect.Pointer {
			argv = reflect.New(m.argType.Elem())
		}
		if err := dec.Decode(argv.Interface()); err != nil {
			log.Errorf("crpc: decoding argument of %s from %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if m.argType.Kind() != reflect.Pointer {
			argv = argv.Elem()
		}

		replyv := reflect.New(m.replyType.Elem())
		if err := srv.call(m, argv, replyv); err != nil {
			res.Err = err.Error()
		}

		if err := enc.Encode(res); err != nil {
			log.Errorf("crpc: writing response of %s to %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if res.Err == "" {
			if err := enc.Encode(replyv.Interface()); err != nil {
				log.Errorf("crpc: writing reply of %s to %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
		}
	}
}

func (srv *Server) lookup(serviceMethod string) (*method, error) {
	dot := strings.LastIndex(serviceMethod, ".")
	if dot < 0 {
		return nil, fmt.Errorf("crpc: ill-formed method %q", serviceMethod)
	}
	svci, ok := srv.services.Load(serviceMethod[:dot])
	if !ok {
		return nil, fmt.Errorf("crpc: unknown service %q", serviceMethod[:dot])
	}
	svc := svci.(*service)
	m, ok := svc.methods[serviceMethod[dot+1:]]
	if !ok {
		return nil, fmt.Errorf("crpc: unknown method %q", serviceMethod)
	}
	return m, nil
}

// call invokes m, converting a panic into an error.
func (srv *Server) call(m *method, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("crpc: panic in call: %v", r)
			err = errors.New("crpc: internal server error")
		}
	}()

	out := m.fn.Call([]reflect.Value{m.rcvr, argv, replyv})
	if e := out[0].Interface(); e != nil {
		return e.(error)
	}
	return nil
}
