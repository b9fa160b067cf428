package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/chat"
	"github.com/velosdrop/velosdrop-sub001/internal/dispatch"
	"github.com/velosdrop/velosdrop-sub001/internal/location"
	"github.com/velosdrop/velosdrop-sub001/internal/media"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/orders"
	"github.com/velosdrop/velosdrop-sub001/internal/routing"
	"github.com/velosdrop/velosdrop-sub001/internal/wallet"
)

type Server struct {
	Orders   *orders.Service
	Tracker  *location.Tracker
	Chat     *chat.Manager
	Settler  *wallet.Settler
	Wallet   wallet.Store
	Topup    *wallet.TopupService
	Uploader media.Uploader
	Bus      bus.Bus
	Dispatch *dispatch.Selector
	Router   routing.Router // nil degrades quotes to straight-line estimates
	SpeedMps float64

	logger *slog.Logger
	mux    *mux.Router
}

type Deps struct {
	Orders   *orders.Service
	Tracker  *location.Tracker
	Chat     *chat.Manager
	Settler  *wallet.Settler
	Wallet   wallet.Store
	Topup    *wallet.TopupService
	Uploader media.Uploader
	Bus      bus.Bus
	Dispatch *dispatch.Selector
	Router   routing.Router
	SpeedMps float64
	Logger   *slog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		Orders:   d.Orders,
		Tracker:  d.Tracker,
		Chat:     d.Chat,
		Settler:  d.Settler,
		Wallet:   d.Wallet,
		Topup:    d.Topup,
		Uploader: d.Uploader,
		Bus:      d.Bus,
		Dispatch: d.Dispatch,
		Router:   d.Router,
		SpeedMps: d.SpeedMps,
		logger:   d.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handlePropose).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}", s.handleGetOrder).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/respond", s.handleRespond).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/advance", s.handleAdvance).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/messages", s.handlePostMessage).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/messages", s.handleHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/messages/{message_id}/read", s.handleMarkRead).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/wallet", s.handleWallet).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/wallet/topup", s.handleTopup).Methods("POST")
	s.mux.HandleFunc("/api/v1/uploads", s.handleUpload).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{role}/{actor_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var in orders.ProposeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(in.OfferTo) == 0 && s.Dispatch != nil {
		cands, err := s.Dispatch.SelectDrivers(r.Context(), in.Pickup)
		if err != nil {
			s.logger.Warn("candidate selection failed", "error", err)
		}
		in.OfferTo = cands
	}
	if in.FareCents <= 0 || in.DistanceKm <= 0 {
		est := routing.Estimate(r.Context(), s.Router, in.Pickup, in.Dropoff, s.SpeedMps)
		if in.DistanceKm <= 0 {
			in.DistanceKm = est.DistanceMeters / 1000
		}
		if in.FareCents <= 0 {
			in.FareCents = orders.FareForDistance(est.DistanceMeters)
		}
	}
	o, err := s.Orders.Propose(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), mux.Vars(r)["order_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string `json:"driver_id"`
		Decision string `json:"decision"` // accept | reject
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.Decision != "accept" && in.Decision != "reject" {
		http.Error(w, "decision must be accept or reject", http.StatusBadRequest)
		return
	}
	err := s.Orders.Respond(r.Context(), mux.Vars(r)["order_id"], in.DriverID, in.Decision == "accept")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string             `json:"actor_id"`
		Status  models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Orders.Advance(r.Context(), mux.Vars(r)["order_id"], in.ActorID, in.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string `json:"driver_id"`
		ProofURL string `json:"proof_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Settler.Complete(r.Context(), mux.Vars(r)["order_id"], in.DriverID, in.ProofURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg.OrderID = mux.Vars(r)["order_id"]
	out, err := s.Chat.Post(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Chat.History(r.Context(), mux.Vars(r)["order_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ReaderRole models.SenderRole `json:"reader_role"`
		ReaderID   string            `json:"reader_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vars := mux.Vars(r)
	if err := s.Chat.MarkRead(r.Context(), vars["order_id"], vars["message_id"], in.ReaderRole, in.ReaderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var sample models.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	accepted, err := s.Tracker.Report(r.Context(), sample)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	bal, err := s.Wallet.Balance(r.Context(), driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.Wallet.Entries(r.Context(), driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance_cents": bal, "entries": entries})
}

func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry, err := s.Topup.Topup(r.Context(), mux.Vars(r)["driver_id"], in.AmountCents)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ref, err := s.Uploader.Upload(r.Context(), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": ref})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var short *apperrors.InsufficientBalanceError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":           "insufficient balance",
			"balance_cents":   short.BalanceCents,
			"required_cents":  short.RequiredCents,
			"shortfall_cents": short.ShortfallCents(),
		})
	case errors.Is(err, apperrors.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, apperrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperrors.ErrExternalService):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, apperrors.ErrChannel):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("internal error",
			"error", err,
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
