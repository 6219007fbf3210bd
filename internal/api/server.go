// Package api exposes the REST + WebSocket surface spec.md §6 names:
// order commit/reveal submission, epoch/price queries, a live WebSocket
// feed of cleared epochs, and a liveness check.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/convexfx/convexfx/internal/crypto"
	"github.com/convexfx/convexfx/internal/ledger"
	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/oracle"
	"github.com/convexfx/convexfx/internal/orderbook"
	"github.com/convexfx/convexfx/internal/report"
)

// Server wires the pending order book, ledger, and oracle behind an
// HTTP/WebSocket API. It owns no clearing state: every handler either reads
// from the ledger/oracle or writes into the order book for the next epoch.
type Server struct {
	router *mux.Router
	hub    *Hub

	book     *orderbook.PendingBook
	ledger   *ledger.Ledger
	oracle   oracle.Source
	registry *numerics.AssetRegistry
	eip      *crypto.EIP712Signer
	log      *zap.Logger
}

// NewServer builds a Server with its routes already registered.
func NewServer(book *orderbook.PendingBook, led *ledger.Ledger, src oracle.Source, registry *numerics.AssetRegistry, eip *crypto.EIP712Signer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		book:     book,
		ledger:   led,
		oracle:   src,
		registry: registry,
		eip:      eip,
		log:      logger,
	}
	s.setupRoutes()
	return s
}

// Hub returns the server's WebSocket hub, so an epoch.Driver can Subscribe
// it and a caller can start its Run loop.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/orders/commit", s.handleCommitOrder).Methods("POST")
	v1.HandleFunc("/orders/reveal", s.handleRevealOrder).Methods("POST")
	v1.HandleFunc("/epochs/{id}", s.handleGetEpoch).Methods("GET")
	v1.HandleFunc("/epochs/{id}/witness", s.handleGetWitness).Methods("GET")
	v1.HandleFunc("/prices", s.handleGetPrices).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves addr until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	snap, err := s.oracle.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read price snapshot", err)
		return
	}
	out := make(map[string]float64, len(snap.Y))
	for id, y := range snap.Y {
		out[s.registry.Symbol(id)] = y
	}
	respondJSON(w, http.StatusOK, priceSnapshotResponse{LogPrices: out, BandBps: snap.BandBps})
}

func (s *Server) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid epoch id", err)
		return
	}
	sol, ok, err := s.ledger.LoadEpoch(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load epoch", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "epoch not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, sol)
}

// handleGetWitness serves the canonical, hashable Witness for a cleared
// epoch: the flattened record an auditor or downstream prover consumes,
// along with its SHA-256 content hash.
func (s *Server) handleGetWitness(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid epoch id", err)
		return
	}
	sol, q0, ok, err := s.ledger.LoadEpochRecord(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load epoch", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "epoch not found", nil)
		return
	}

	witness := report.Build(s.registry, q0, sol)
	data, hash, err := report.Canonicalize(witness)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to canonicalize witness", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Witness-Sha256", hexutil.Encode(hash[:]))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCommitOrder(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", nil)
		return
	}
	hashBytes, err := hexutil.Decode(req.Hash)
	if err != nil || len(hashBytes) != 32 {
		respondError(w, http.StatusBadRequest, "hash must be 0x-prefixed 32 bytes", err)
		return
	}
	var hash [32]byte
	copy(hash[:], hashBytes)

	if err := s.book.Commit(req.OrderID, common.HexToAddress(req.Owner), hash); err != nil {
		respondError(w, http.StatusConflict, "commit rejected", err)
		return
	}
	respondJSON(w, http.StatusAccepted, struct{}{})
}

func (s *Server) handleRevealOrder(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := toOrderEIP712(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err)
		return
	}
	saltBytes, err := hexutil.Decode(req.Salt)
	if err != nil || len(saltBytes) != 32 {
		respondError(w, http.StatusBadRequest, "salt must be 0x-prefixed 32 bytes", err)
		return
	}
	var salt [32]byte
	copy(salt[:], saltBytes)

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", err)
		return
	}

	if err := s.book.Reveal(req.OrderID, order, salt, sig, s.registry); err != nil {
		respondError(w, http.StatusBadRequest, "reveal rejected", err)
		return
	}
	respondJSON(w, http.StatusAccepted, struct{}{})
}

func toOrderEIP712(w orderWireForm) (*crypto.OrderEIP712, error) {
	if !common.IsHexAddress(w.Owner) {
		return nil, errInvalidOwner
	}
	budget, ok := parseBigInt(w.BudgetMinorUnits)
	if !ok {
		return nil, errInvalidAmount
	}
	limit, ok := parseBigInt(w.LimitRatioPPM)
	if !ok {
		return nil, errInvalidAmount
	}
	minFill, ok := parseBigInt(w.MinFillPPM)
	if !ok {
		return nil, errInvalidAmount
	}
	nonce, ok := parseBigInt(w.Nonce)
	if !ok {
		return nil, errInvalidAmount
	}
	deadline, ok := parseBigInt(w.Deadline)
	if !ok {
		return nil, errInvalidAmount
	}
	return &crypto.OrderEIP712{
		PayAsset:         w.PayAsset,
		ReceiveAsset:     w.ReceiveAsset,
		BudgetMinorUnits: budget,
		LimitRatioPPM:    limit,
		MinFillPPM:       minFill,
		Nonce:            nonce,
		Deadline:         deadline,
		Owner:            common.HexToAddress(w.Owner),
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body", err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

var (
	errInvalidOwner  = &apiError{"invalid owner address"}
	errInvalidAmount = &apiError{"invalid numeric field"}
)

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }
