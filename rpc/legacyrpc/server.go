package legacyrpc

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

const (
	// maxRequestSize is the largest request body accepted.
	maxRequestSize = 1 << 22

	rpcAuthTimeoutSeconds = 10
)

// Options contains the required options for running the legacy RPC server.
type Options struct {
	Username string
	Password string

	MaxPOSTClients int64
}

// Server holds the items the RPC server may need to access (auth,
// config, the command table, etc.)
type Server struct {
	httpServer http.Server
	table      *Table
	authsha    [sha256.Size]byte

	listeners []net.Listener
	wg        sync.WaitGroup

	quit    chan struct{}
	quitMtx sync.Mutex
}

// jsonAuthFail sends a message back to the client if the http auth is
// rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="btcwalletd RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// NewServer creates a new server for serving legacy RPC client
// connections on listeners. Requests are dispatched to table.
func NewServer(opts *Options, table *Table, listeners []net.Listener) *Server {
	serveMux := http.NewServeMux()
	server := &Server{
		httpServer: http.Server{
			Handler: serveMux,

			// Timeout connections which don't complete the initial
			// handshake within the allowed timeframe.
			ReadTimeout: time.Second * rpcAuthTimeoutSeconds,
		},
		table:     table,
		listeners: listeners,
		quit:      make(chan struct{}),
		authsha:   sha256.Sum256(httpBasicAuth(opts.Username, opts.Password)),
	}

	serveMux.Handle("/", throttledFn(opts.MaxPOSTClients,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Connection", "close")
			w.Header().Set("Content-Type", "application/json")
			r.Close = true

			if r.Method != http.MethodPost {
				http.Error(w, "405 Method Not Allowed.",
					http.StatusMethodNotAllowed)
				return
			}
			if err := server.checkAuthHeader(r); err != nil {
				log.Warnf("Unauthorized client connection attempt")
				jsonAuthFail(w)
				return
			}
			server.wg.Add(1)
			server.postClientRPC(w, r)
			server.wg.Done()
		}))

	for _, lis := range listeners {
		server.serve(lis)
	}

	return server
}

// httpBasicAuth returns the UTF-8 bytes of the HTTP Basic authentication
// string:
//
//	"Basic " + base64(username + ":" + password)
func httpBasicAuth(username, password string) []byte {
	const header = "Basic "
	base64 := base64.StdEncoding

	b64InputLen := len(username) + len(":") + len(password)
	b64Input := make([]byte, 0, b64InputLen)
	b64Input = append(b64Input, username...)
	b64Input = append(b64Input, ':')
	b64Input = append(b64Input, password...)

	output := make([]byte, len(header)+base64.EncodedLen(b64InputLen))
	copy(output, header)
	base64.Encode(output[len(header):], b64Input)
	return output
}

// serve serves HTTP POST requests on the listener.
func (s *Server) serve(lis net.Listener) {
	s.wg.Add(1)
	go func() {
		log.Infof("Listening on %s", lis.Addr())
		err := s.httpServer.Serve(lis)
		log.Tracef("Finished serving RPC: %v", err)
		s.wg.Done()
	}()
}

// Stop gracefully shuts down the rpc server by stopping and disconnecting
// all clients. This blocks until shutdown completes.
func (s *Server) Stop() {
	s.quitMtx.Lock()
	select {
	case <-s.quit:
		s.quitMtx.Unlock()
		return
	default:
	}

	// Stop all the listeners.
	for _, listener := range s.listeners {
		err := listener.Close()
		if err != nil {
			log.Errorf("Cannot close listener `%s`: %v",
				listener.Addr(), err)
		}
	}

	// Signal the remaining goroutines to stop.
	close(s.quit)
	s.quitMtx.Unlock()

	// Wait for all remaining goroutines to exit.
	s.wg.Wait()
}

// checkAuthHeader checks the HTTP Basic authentication supplied by a
// client in the HTTP request r.
//
// The authentication comparison is time constant.
func (s *Server) checkAuthHeader(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		return errors.New("no auth header")
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp != 1 {
		return errors.New("bad auth")
	}
	return nil
}

// throttledFn wraps an http.HandlerFunc with throttling of concurrent
// active clients by responding with an HTTP 429 when the threshold is
// crossed.
func throttledFn(threshold int64, f http.HandlerFunc) http.Handler {
	return throttled(threshold, f)
}

// throttled wraps an http.Handler with throttling of concurrent active
// clients by responding with an HTTP 429 when the threshold is crossed.
func throttled(threshold int64, h http.Handler) http.Handler {
	if threshold <= 0 {
		return h
	}
	sem := make(chan struct{}, threshold)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			h.ServeHTTP(w, r)
		default:
			http.Error(w, "429 Too Many Requests",
				http.StatusTooManyRequests)
		}
	})
}

// request is a JSON-RPC 1.0 or 2.0 request object.
type request struct {
	Jsonrpc string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// response is the reply to one request. Jsonrpc is only set for 2.0
// requests.
type response struct {
	Jsonrpc string            `json:"jsonrpc,omitempty"`
	Result  interface{}       `json:"result"`
	Error   *btcjson.RPCError `json:"error"`
	ID      json.RawMessage   `json:"id"`
}

// notification reports whether the request expects no reply.
func (r *request) notification() bool {
	return r.Jsonrpc == "2.0" && r.ID == nil
}

// handle parses and executes one request.
func (s *Server) handle(raw json.RawMessage) (*response, bool) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return &response{Error: btcjson.ErrRPCParse}, true
	}

	resp := &response{ID: req.ID}
	if req.Jsonrpc == "2.0" {
		resp.Jsonrpc = "2.0"
	}
	validVersion := req.Jsonrpc == "" || req.Jsonrpc == "1.0" ||
		req.Jsonrpc == "2.0"
	if !validVersion || req.Method == "" {
		resp.Error = btcjson.ErrRPCInvalidRequest
		return resp, true
	}

	resp.Result, resp.Error = s.table.Execute(req.Method, req.Params)
	return resp, !req.notification()
}

// marshal encodes resp, replacing results that cannot be marshalled with
// an internal error.
func marshal(resp *response) []byte {
	b, err := json.Marshal(resp)
	if err == nil {
		return b
	}
	log.Errorf("Cannot marshal response: %v", err)
	resp.Result = nil
	resp.Error = btcjson.NewRPCError(btcjson.ErrRPCInternal.Code, err.Error())
	b, _ = json.Marshal(resp)
	return b
}

// postClientRPC processes and replies to a JSON-RPC client request.
func (s *Server) postClientRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "400 Bad Request.", http.StatusBadRequest)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		resp, reply := s.handle(trimmed)
		if !reply {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.write(w, marshal(resp))
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		s.write(w, marshal(&response{Error: btcjson.ErrRPCParse}))
		return
	}
	if len(batch) == 0 {
		s.write(w, marshal(&response{Error: btcjson.ErrRPCInvalidRequest}))
		return
	}

	replies := make([]json.RawMessage, 0, len(batch))
	for _, raw := range batch {
		resp, reply := s.handle(raw)
		if reply {
			replies = append(replies, marshal(resp))
		}
	}
	if len(replies) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out, err := json.Marshal(replies)
	if err != nil {
		log.Errorf("Cannot marshal batch response: %v", err)
		http.Error(w, "500 Internal Server Error.",
			http.StatusInternalServerError)
		return
	}
	s.write(w, out)
}

func (s *Server) write(w http.ResponseWriter, b []byte) {
	if _, err := w.Write(b); err != nil {
		log.Warnf("Unable to respond to client: %v", err)
	}
}
