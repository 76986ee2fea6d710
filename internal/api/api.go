package api

import (
	"btc-signal-desk/internal/database"
	"btc-signal-desk/internal/types"
	"btc-signal-desk/lib/helpers"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/emersion/go-message/mail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type CreateAlertRequest struct {
	Email           string  `json:"email"`
	Direction       string  `json:"direction"`
	PriceThreshold  float64 `json:"price_threshold"`
	CooldownMinutes *int    `json:"cooldown_minutes,omitempty"`
	CustomMessage   string  `json:"custom_message"`
	Enabled         *bool   `json:"enabled,omitempty"`
}

type UpdateAlertRequest struct {
	Email           *string  `json:"email,omitempty"`
	Direction       *string  `json:"direction,omitempty"`
	PriceThreshold  *float64 `json:"price_threshold,omitempty"`
	CooldownMinutes *int     `json:"cooldown_minutes,omitempty"`
	CustomMessage   *string  `json:"custom_message,omitempty"`
	Enabled         *bool    `json:"enabled,omitempty"`
}

// AlertView is an alert as listed on the management page
type AlertView struct {
	types.Alert
	ThresholdDisplay string `json:"threshold_display"`
	LastSentAgo      string `json:"last_sent_ago"`
}

type Server struct {
	store    database.Store
	gatherer prometheus.Gatherer
	asset    string
	now      func() time.Time
}

func NewServer(store database.Store, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{store: store, gatherer: gatherer, asset: types.AssetBTC, now: time.Now}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /alerts", s.createAlert)
	mux.HandleFunc("GET /alerts", s.listAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.getAlert)
	mux.HandleFunc("PATCH /alerts/{id}", s.updateAlert)
	mux.HandleFunc("POST /alerts/{id}/toggle", s.toggleAlert)
	mux.HandleFunc("DELETE /alerts/{id}", s.deleteAlert)
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Launching alerts API on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(shCtx)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	a, err := req.toAlert()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.Asset = s.asset
	a.CreatedAt = s.now().UTC()

	id, err := s.store.Insert(r.Context(), a)
	if err != nil {
		log.Errorf("Failed to create alert: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}

	created, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	log.WithField("alert_id", id).Infof("Alert created for %s", helpers.MaskEmail(created.Email))
	writeJSON(w, http.StatusCreated, Response{Message: "Alert created", Data: s.view(created)})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.List(r.Context(), s.asset)
	if err != nil {
		s.storeError(w, err)
		return
	}

	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, s.view(a))
	}
	writeJSON(w, http.StatusOK, Response{Message: "Alerts retrieved", Data: views})
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Alert retrieved", Data: s.view(a)})
}

func (s *Server) updateAlert(w http.ResponseWriter, r *http.Request) {
	var req UpdateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	s.applyPatch(w, r, r.PathValue("id"), patch, "Alert updated")
}

func (s *Server) toggleAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	enabled := !a.Enabled
	s.applyPatch(w, r, id, types.AlertPatch{Enabled: &enabled}, "Alert toggled")
}

func (s *Server) applyPatch(w http.ResponseWriter, r *http.Request, id string, patch types.AlertPatch, msg string) {
	if err := s.store.Update(r.Context(), id, patch); err != nil {
		s.storeError(w, err)
		return
	}

	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: msg, Data: s.view(a)})
}

func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []types.RunReport{}
	}
	writeJSON(w, http.StatusOK, Response{Message: "Runs retrieved", Data: runs})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) view(a types.Alert) AlertView {
	return AlertView{
		Alert:            a,
		ThresholdDisplay: "$" + helpers.FormatCompact(a.PriceThreshold),
		LastSentAgo:      helpers.TimeAgo(a.LastSentAt, s.now()),
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	log.Errorf("Store request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "Store request failed")
}

func (req CreateAlertRequest) toAlert() (types.Alert, error) {
	email, err := checkEmail(req.Email)
	if err != nil {
		return types.Alert{}, err
	}
	direction, err := types.ParseDirection(req.Direction)
	if err != nil {
		return types.Alert{}, err
	}
	if err := checkThreshold(req.PriceThreshold); err != nil {
		return types.Alert{}, err
	}

	cooldown := types.DefaultCooldownMinutes
	if req.CooldownMinutes != nil {
		cooldown = *req.CooldownMinutes
	}
	if err := checkCooldown(cooldown); err != nil {
		return types.Alert{}, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	return types.Alert{
		Email:           email,
		Direction:       direction,
		PriceThreshold:  req.PriceThreshold,
		CooldownMinutes: cooldown,
		CustomMessage:   strings.TrimSpace(req.CustomMessage),
		Enabled:         enabled,
	}, nil
}

func (req UpdateAlertRequest) toPatch() (types.AlertPatch, error) {
	var p types.AlertPatch
	if req.Email != nil {
		email, err := checkEmail(*req.Email)
		if err != nil {
			return p, err
		}
		p.Email = &email
	}
	if req.Direction != nil {
		d, err := types.ParseDirection(*req.Direction)
		if err != nil {
			return p, err
		}
		p.Direction = &d
	}
	if req.PriceThreshold != nil {
		if err := checkThreshold(*req.PriceThreshold); err != nil {
			return p, err
		}
		p.PriceThreshold = req.PriceThreshold
	}
	if req.CooldownMinutes != nil {
		if err := checkCooldown(*req.CooldownMinutes); err != nil {
			return p, err
		}
		p.CooldownMinutes = req.CooldownMinutes
	}
	if req.CustomMessage != nil {
		msg := strings.TrimSpace(*req.CustomMessage)
		p.CustomMessage = &msg
	}
	p.Enabled = req.Enabled
	return p, nil
}

func checkEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return addr.Address, nil
}

func checkThreshold(v float64) error {
	if v < types.MinPriceThreshold {
		return fmt.Errorf("price_threshold must be at least %v", types.MinPriceThreshold)
	}
	return nil
}

func checkCooldown(minutes int) error {
	if minutes < types.MinCooldownMinutes {
		return fmt.Errorf("cooldown_minutes must be at least %d", types.MinCooldownMinutes)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Message: msg})
}
