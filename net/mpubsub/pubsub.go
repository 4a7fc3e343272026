// Package mpubsub implements a datagram PubSub, normally over a multicast group.
// Publish: a CBOR-encoded header and message are sent in a single datagram.
// Listen: received datagrams are dispatched to the method named in the header.
package mpubsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/token"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// MaxDatagramSize bounds both published and received messages.
const MaxDatagramSize = 1024

type MessageHeader struct {
	ServiceMethod string `cbor:"1,keyasint,omitempty"`
}

type handler struct {
	rcvr    reflect.Value
	fn      reflect.Value
	argType reflect.Type
}

type PubSub struct {
	rc       *net.UDPConn
	wc       *net.UDPConn
	handlers sync.Map // "Service.Method" -> *handler
}

// New creates a PubSub reading from rconn and publishing on wconn. Either may be nil for a
// publish-only or listen-only instance.
func New(rconn *net.UDPConn, wconn *net.UDPConn) *PubSub {
	return &PubSub{rc: rconn, wc: wconn}
}

// Register subscribes every exported method of rcvr with the shape func(*Msg).
func (ps *PubSub) Register(rcvr any) error {
	v := reflect.ValueOf(rcvr)
	name := reflect.Indirect(v).Type().Name()
	if name == "" || !token.IsExported(name) {
		return fmt.Errorf("mpubsub: type %s is not exported", v.Type())
	}

	n := 0
	typ := v.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type
		if !m.IsExported() || mt.NumIn() != 2 || mt.NumOut() != 0 || mt.In(1).Kind() != reflect.Pointer {
			continue
		}
		ps.handlers.Store(name+"."+m.Name, &handler{rcvr: v, fn: m.Func, argType: mt.In(1).Elem()})
		log.Debugf("mpubsub: subscribed %s.%s", name, m.Name)
		n++
	}
	if n == 0 {
		return fmt.Errorf("mpubsub: type %s has no suitable methods", name)
	}
	return nil
}

func (ps *PubSub) Publish(serviceMethod string, msg any) error {
	if ps.wc == nil {
		return errors.New("mpubsub: publish on a listen-only instance")
	}

	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(&MessageHeader{ServiceMethod: serviceMethod}); err != nil {
		return err
	}
	if err := enc.Encode(msg); err != nil {
		return err
	}
	if buf.Len() > MaxDatagramSize {
		return fmt.Errorf("mpubsub: %s message is %d bytes, limit is %d", serviceMethod, buf.Len(), MaxDatagramSize)
	}

	_, err := ps.wc.Write(buf.Bytes())
	return err
}

// Listen dispatches received messages until ctx is cancelled. Malformed datagrams are logged and
// dropped.
func (ps *PubSub) Listen(ctx context.Context) error {
	if ps.rc == nil {
		return errors.New("mpubsub: listen on a publish-only instance")
	}
	stop := context.AfterFunc(ctx, func() { ps.rc.Close() })
	defer stop()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := ps.rc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("mpubsub: failed to read message: %v", err)
			continue
		}
		ps.dispatch(buf[:n], from)
	}
}

func (ps *PubSub) dispatch(datagram []byte, from *net.UDPAddr) {
	dec := cbor.NewDecoder(bytes.NewReader(datagram))

	var hdr MessageHeader
	if err := dec.Decode(&hdr); err != nil {
		log.Errorf("mpubsub: bad header from %s: %v", from, err)
		return
	}
	if !strings.Contains(hdr.ServiceMethod, ".") {
		log.Errorf("mpubsub: ill-formed method %q from %s", hdr.ServiceMethod, from)
		return
	}
	hi, ok := ps.handlers.Load(hdr.ServiceMethod)
	if !ok {
		log.Debugf("mpubsub: no subscriber for %s", hdr.ServiceMethod)
		return
	}
	h := hi.(*handler)

	arg := reflect.New(h.argType)
	if err := dec.Decode(arg.Interface()); err != nil {
		log.Errorf("mpubsub: bad %s payload from %s: %v", hdr.ServiceMethod, from, err)
		return
	}
	h.fn.Call([]reflect.Value{h.rcvr, arg})
}
