package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/p2p"
)

// maxTxBody bounds the hex encoded body of POST /tx.
const maxTxBody = 2*ledger.MaxTransactionSize + 2

// Backend is what the service reports on.
type Backend interface {
	GetStats() map[string]string
	GetBlock(index uint32) (*ledger.Block, error)
	GetPeers() []p2p.PeerInfo
	GetBalance(owner []byte) (uint64, error)
	SubmitTransaction(tx *ledger.Transaction) blockchain.RelayResult
}

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	backend     Backend
	router      *mux.Router
	server      *http.Server
	logger      *logrus.Entry
}

// NewService registers the API handlers. metrics is mounted on /metrics when
// not nil.
func NewService(bindAddress string, backend Backend, metrics http.Handler, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		backend:     backend,
		router:      mux.NewRouter(),
		logger:      logger.WithField("component", "service"),
	}

	service.registerHandlers(metrics)

	return &service
}

func (s *Service) registerHandlers(metrics http.Handler) {
	s.logger.Debug("Registering API handlers")
	s.router.HandleFunc("/stats", s.makeHandler(s.GetStats)).Methods(http.MethodGet)
	s.router.HandleFunc("/block/{index:[0-9]+}", s.makeHandler(s.GetBlock)).Methods(http.MethodGet)
	s.router.HandleFunc("/peers", s.makeHandler(s.GetPeers)).Methods(http.MethodGet)
	s.router.HandleFunc("/balance/{owner}", s.makeHandler(s.GetBalance)).Methods(http.MethodGet)
	s.router.HandleFunc("/tx", s.makeHandler(s.SubmitTransaction)).Methods(http.MethodPost)
	if metrics != nil {
		s.router.Handle("/metrics", metrics)
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the router, for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve listens on the bind address until Close. This is a blocking call.
func (s *Service) Serve() {
	s.Lock()
	s.server = &http.Server{
		Addr:              s.bindAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.Unlock()

	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Serving API")
	}
}

// Close stops a running Serve.
func (s *Service) Close() error {
	s.Lock()
	srv := s.server
	s.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.GetStats())
}

// GetBlock ...
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["index"]

	blockIndex, err := strconv.ParseUint(param, 10, 32)
	if err != nil {
		s.logger.WithError(err).Debugf("Parsing block_index parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	block, err := s.backend.GetBlock(uint32(blockIndex))
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Errorf("Retrieving block %d", blockIndex)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, block)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.GetPeers())
}

// Balance ...
type Balance struct {
	Owner string
	Value uint64
}

// GetBalance sums the unspent outputs of a public key, in the 0X hex form
// printed by keygen.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["owner"]

	owner, err := common.DecodeFromString(param)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	value, err := s.backend.GetBalance(owner)
	if err != nil {
		s.logger.WithError(err).Error("Computing balance")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, Balance{Owner: param, Value: value})
}

// SubmitResult ...
type SubmitResult struct {
	Hash    string
	Result  string
	Message string `json:",omitempty"`
}

// SubmitTransaction relays a 0X hex encoded transaction and reports the ledger
// verdict. Rejected transactions are answered with 422.
func (s *Service) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBody+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxTxBody {
		http.Error(w, "transaction too large", http.StatusRequestEntityTooLarge)
		return
	}

	raw, err := common.DecodeFromString(strings.TrimSpace(string(body)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx := new(ledger.Transaction)
	if err := tx.Unmarshal(raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.backend.SubmitTransaction(tx)

	status := http.StatusOK
	if !res.Accepted() {
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, SubmitResult{
		Hash:    res.Hash.String(),
		Result:  res.Reason.String(),
		Message: res.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
