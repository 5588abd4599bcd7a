// Package rpc provides the JSON-RPC 2.0 API surface of the exchange
// core, paired with a WebSocket hub that relays domain events to
// subscribed clients.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/exchanged/internal/account"
	"github.com/klingon-exchange/exchanged/internal/backend"
	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/deposit"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/matching"
	"github.com/klingon-exchange/exchanged/internal/reporting"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/internal/withdraw"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// Server is a JSON-RPC 2.0 server fronting the exchange core.
type Server struct {
	store     *storage.Storage
	ledger    *ledger.Ledger
	balances  *balance.Store
	matcher   *matching.Matcher
	deposits  *deposit.Machine
	withdraws *withdraw.Machine
	accounts  *account.Manager
	reporting *reporting.Reconciler
	backends  *backend.Registry

	log   *logging.Logger
	wsHub *WSHub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Deps bundles the components a Server dispatches JSON-RPC calls into.
type Deps struct {
	Store     *storage.Storage
	Ledger    *ledger.Ledger
	Balances  *balance.Store
	Matcher   *matching.Matcher
	Deposits  *deposit.Machine
	Withdraws *withdraw.Machine
	Accounts  *account.Manager
	Reporting *reporting.Reconciler

	// Backends resolves a chain-watcher client per crypto currency, used
	// to source live confirmation counts for deposit_processConfirmation
	// instead of trusting a caller-supplied count outright. Nil means no
	// chain is wired and every deposit falls back to the caller-supplied
	// count.
	Backends *backend.Registry

	// Hub is the WebSocket hub used as the events.Publisher wired into
	// the domain managers above; it must be constructed with NewWSHub
	// before the managers so the same instance backs both call sites.
	Hub *WSHub
}

// NewServer creates a new JSON-RPC server.
func NewServer(d Deps) *Server {
	s := &Server{
		store: d.Store, ledger: d.Ledger, balances: d.Balances,
		matcher: d.Matcher, deposits: d.Deposits, withdraws: d.Withdraws,
		accounts: d.Accounts, reporting: d.Reporting, backends: d.Backends,
		log:      logging.GetDefault().Component("rpc"),
		handlers: make(map[string]Handler),
		wsHub:    d.Hub,
	}
	s.registerHandlers()
	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	s.handlers["order_place"] = s.orderPlace
	s.handlers["order_cancel"] = s.orderCancel
	s.handlers["order_get"] = s.orderGet
	s.handlers["order_list"] = s.orderList

	s.handlers["deposit_create"] = s.depositCreate
	s.handlers["deposit_userConfirm"] = s.depositUserConfirm
	s.handlers["deposit_setInProgress"] = s.depositSetInProgress
	s.handlers["deposit_processConfirmation"] = s.depositProcessConfirmation
	s.handlers["deposit_cancel"] = s.depositCancel
	s.handlers["deposit_get"] = s.depositGet
	s.handlers["deposit_list"] = s.depositList

	s.handlers["withdraw_create"] = s.withdrawCreate
	s.handlers["withdraw_userConfirm"] = s.withdrawUserConfirm
	s.handlers["withdraw_setInProgress"] = s.withdrawSetInProgress
	s.handlers["withdraw_complete"] = s.withdrawComplete
	s.handlers["withdraw_cancel"] = s.withdrawCancel
	s.handlers["withdraw_get"] = s.withdrawGet
	s.handlers["withdraw_list"] = s.withdrawList

	s.handlers["transfer_create"] = s.transferCreate
	s.handlers["balance_get"] = s.balanceGet
	s.handlers["balance_list"] = s.balanceList
	s.handlers["user_verify"] = s.userVerify
	s.handlers["reporting_reconcile"] = s.reportingReconcile
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	if s.wsHub == nil {
		s.wsHub = NewWSHub()
	}
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, InternalError, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{JSONRPC: "2.0", Result: result, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message, Data: data}, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
