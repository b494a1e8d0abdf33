package transport

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openmetaverse-go/simwire/circuit"
)

// WS is a circuit.Transport backed by WebSocket connections, one per peer.
// It runs its own HTTP server and upgrades every incoming connection on
// path, using the remote address as that peer's Host. This is the
// browser/firewall-friendly alternative to UDP, per spec.md §6.
type WS struct {
	upgrader websocket.Upgrader
	server   *http.Server

	pkts chan netPkt
	errs chan error

	mu    sync.Mutex
	conns map[circuit.Host]*websocket.Conn
}

// ListenWS starts an HTTP server on addr that upgrades every request to
// path into a WebSocket connection.
func ListenWS(addr, path string) *WS {
	w := &WS{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		pkts:     make(chan netPkt, 256),
		errs:     make(chan error, 1),
		conns:    make(map[circuit.Host]*websocket.Conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, w.handleUpgrade)
	w.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case w.errs <- fmt.Errorf("transport: ws listen: %w", err):
			default:
			}
		}
	}()

	return w
}

func (w *WS) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}

	host, err := hostFromRemoteAddr(r.RemoteAddr)
	if err != nil {
		conn.Close()
		return
	}

	w.mu.Lock()
	w.conns[host] = conn
	w.mu.Unlock()

	go w.readLoop(host, conn)
}

func hostFromRemoteAddr(remoteAddr string) (circuit.Host, error) {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return circuit.Host{}, fmt.Errorf("transport: split remote addr: %w", err)
	}
	addrPort, err := netip.ParseAddrPort(net.JoinHostPort(host, port))
	if err != nil {
		return circuit.Host{}, fmt.Errorf("transport: parse remote addr: %w", err)
	}
	return circuit.NewHost(addrPort.Addr(), addrPort.Port()), nil
}

func (w *WS) readLoop(host circuit.Host, conn *websocket.Conn) {
	defer func() {
		w.mu.Lock()
		delete(w.conns, host)
		w.mu.Unlock()
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		w.pkts <- netPkt{host: host, data: data}
	}
}

// HasConn reports whether host currently has an open WebSocket connection,
// so a caller multiplexing several Transports (see Multi) can route a Send
// to whichever one actually owns the peer.
func (w *WS) HasConn(host circuit.Host) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.conns[host]
	return ok
}

// Send implements circuit.Transport.
func (w *WS) Send(host circuit.Host, data []byte) (int, error) {
	w.mu.Lock()
	conn, ok := w.conns[host]
	w.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("transport: no open ws connection for %s", host)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return 0, fmt.Errorf("transport: ws send: %w", err)
	}
	return len(data), nil
}

// Receive implements circuit.Transport.
func (w *WS) Receive() (circuit.Host, []byte, error) {
	select {
	case pkt := <-w.pkts:
		return pkt.host, pkt.data, nil
	case err := <-w.errs:
		return circuit.Host{}, nil, err
	default:
		return circuit.Host{}, nil, circuit.ErrNoData
	}
}

// Close shuts down the HTTP server and every open connection.
func (w *WS) Close() error {
	w.mu.Lock()
	for host, conn := range w.conns {
		conn.Close()
		delete(w.conns, host)
	}
	w.mu.Unlock()
	return w.server.Close()
}
