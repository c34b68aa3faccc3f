// Package parktest is an in-process double of the parking backend's
// documented HTTP and websocket surface. It exists so the client's
// synchronization core can be tested against real wire behavior
// (token pairs, 401s, per-lot push channels) without a deployed
// backend. It is test scaffolding, not a service.
package parktest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lotview/lotview/internal/parking"
)

type user struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	passwordHash string
}

// Server holds the double's in-memory state and the httptest listener.
type Server struct {
	httpServer *httptest.Server
	hub        *hub
	tokens     *tokenIssuer
	upgrader   websocket.Upgrader

	// KeyID is the payment key handed back with booking orders.
	KeyID string

	mu    sync.Mutex
	users map[string]*user // keyed by email
	lots  []*parking.Lot
}

func New() *Server {
	s := &Server{
		hub:    newHub(),
		tokens: newTokenIssuer(),
		KeyID:  "rzp_test_parktest",
		users:  make(map[string]*user),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Get("/auth/me", s.handleMe)
		r.Get("/lots", s.handleListLots)
		r.Post("/bookings", s.handleCreateBooking)
		r.Post("/lots/{lotID}/slots/{slotID}/status", s.handleSlotStatus)
		r.Get("/ws/lot/{lotID}", s.handleChannel)
	})

	s.httpServer = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.httpServer.Close()
}

// URL is the HTTP base the api client should point at.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// WSURL is the websocket base the live supervisor should point at.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

// --- seeding and test controls ---

// SeedLot installs a lot with its slots.
func (s *Server) SeedLot(lot parking.Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := lot
	copied.Slots = append([]parking.Slot(nil), lot.Slots...)
	for i := range copied.Slots {
		copied.Slots[i].LotID = copied.ID
	}
	s.lots = append(s.lots, &copied)
}

// SeedUser registers an account directly and returns its id.
func (s *Server) SeedUser(email, password, name string) string {
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		panic(fmt.Sprintf("parktest: hash password: %v", err))
	}
	u := &user{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		passwordHash: hash,
	}
	s.mu.Lock()
	s.users[email] = u
	s.mu.Unlock()
	return u.ID
}

// SetAccessTTL controls the lifetime of newly minted access tokens.
// Tests use a negative value to hand out already-expired tokens.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.tokens.accessTTL = d
}

// IssueTokens mints a credential pair for a seeded user, bypassing the
// login endpoint.
func (s *Server) IssueTokens(email string) (access, refresh string) {
	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		panic("parktest: unknown user " + email)
	}
	access, refresh, err := s.tokens.pair(u.ID)
	if err != nil {
		panic(fmt.Sprintf("parktest: mint tokens: %v", err))
	}
	return access, refresh
}

// IssueExpiredAccess mints an access token that is already past its
// expiry, for exercising the silent refresh path.
func (s *Server) IssueExpiredAccess(email string) string {
	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		panic("parktest: unknown user " + email)
	}
	token, err := s.tokens.mint(u.ID, "access", -time.Minute)
	if err != nil {
		panic(fmt.Sprintf("parktest: mint token: %v", err))
	}
	return token
}

// UpdateSlotStatus mutates a slot and broadcasts the change to the
// lot's channels, the way the occupancy pipeline does. The reserved
// state wins over an ML "free" report.
func (s *Server) UpdateSlotStatus(lotID, slotID int64, status parking.SlotStatus) bool {
	s.mu.Lock()
	slot := s.findSlotLocked(lotID, slotID)
	if slot == nil {
		s.mu.Unlock()
		return false
	}
	if slot.Status == parking.SlotReserved && status == parking.SlotFree {
		s.mu.Unlock()
		return false
	}
	slot.Status = status
	s.mu.Unlock()

	s.hub.broadcast(lotID, map[string]any{
		"type": "slot_update",
		"slot": map[string]any{
			"id":     slotID,
			"status": string(status),
			"lot_id": lotID,
		},
	})
	return true
}

// Broadcast pushes an arbitrary message to a lot's channels. Tests use
// it for forward-compatibility cases (unknown event types).
func (s *Server) Broadcast(lotID int64, message any) {
	s.hub.broadcast(lotID, message)
}

// DropConnections force-closes every channel for a lot, simulating an
// unexpected disconnect.
func (s *Server) DropConnections(lotID int64) {
	s.hub.closeAll(lotID)
}

// ChannelCount reports how many live channels a lot currently has.
func (s *Server) ChannelCount(lotID int64) int {
	return s.hub.count(lotID)
}

func (s *Server) findSlotLocked(lotID, slotID int64) *parking.Slot {
	for _, lot := range s.lots {
		if lot.ID != lotID {
			continue
		}
		for i := range lot.Slots {
			if lot.Slots[i].ID == slotID {
				return &lot.Slots[i]
			}
		}
	}
	return nil
}

// --- handlers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail matches the backend's error body shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeDetail(w, http.StatusUnprocessableEntity, "value is not a valid email address")
		return
	}
	if len(req.Password) < 8 || !hasLetterAndDigit(req.Password) {
		writeDetail(w, http.StatusUnprocessableEntity, "Password must contain at least one letter and one digit")
		return
	}
	if len(req.Name) < 2 {
		writeDetail(w, http.StatusUnprocessableEntity, "Name too short")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Email]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.mu.Unlock()

	s.SeedUser(req.Email, req.Password, req.Name)

	s.mu.Lock()
	u := s.users[req.Email]
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")

	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	match, err := argon2id.ComparePasswordAndHash(password, u.passwordHash)
	if err != nil || !match {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	access, refresh, err := s.tokens.pair(u.ID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Token error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, err := s.tokens.parse(req.RefreshToken, "refresh")
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	u := s.userByID(claims.Subject)
	if u == nil || !u.IsActive {
		writeDetail(w, http.StatusUnauthorized, "User not found or inactive")
		return
	}

	access, refresh, err := s.tokens.pair(u.ID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Token error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := s.authenticate(r)
	if u == nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListLots(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lots := make([]parking.Lot, 0, len(s.lots))
	for _, lot := range s.lots {
		copied := *lot
		copied.Slots = append([]parking.Slot(nil), lot.Slots...)
		lots = append(lots, copied)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	if s.authenticate(r) == nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	var req struct {
		SlotID        int64 `json:"slot_id"`
		DurationHours int   `json:"duration_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DurationHours < 1 || req.DurationHours > 24 {
		writeDetail(w, http.StatusUnprocessableEntity, "duration_hours must be between 1 and 24")
		return
	}

	s.mu.Lock()
	var slot *parking.Slot
	for _, lot := range s.lots {
		for i := range lot.Slots {
			if lot.Slots[i].ID == req.SlotID {
				slot = &lot.Slots[i]
			}
		}
	}
	if slot == nil {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Slot not found")
		return
	}
	amount := int64(float64(req.DurationHours) * slot.RatePerHour * 100)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": "order_" + uuid.NewString(),
		"amount":   amount,
		"currency": "INR",
		"key_id":   s.KeyID,
	})
}

func (s *Server) handleSlotStatus(w http.ResponseWriter, r *http.Request) {
	lotID, err1 := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	slotID, err2 := strconv.ParseInt(chi.URLParam(r, "slotID"), 10, 64)
	if err1 != nil || err2 != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid lot or slot id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	status, ok := parking.ParseSlotStatus(req.Status)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "Status must be one of: free, occupied, reserved")
		return
	}

	if !s.UpdateSlotStatus(lotID, slotID, status) {
		s.mu.Lock()
		slot := s.findSlotLocked(lotID, slotID)
		s.mu.Unlock()
		if slot == nil {
			writeDetail(w, http.StatusNotFound, "Slot not found")
			return
		}
		// Priority rule swallowed the update; report current state.
		writeJSON(w, http.StatusOK, slot)
		return
	}

	s.mu.Lock()
	slot := *s.findSlotLocked(lotID, slotID)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid lot id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.add(lotID, conn)
	defer func() {
		s.hub.remove(lotID, conn)
		conn.Close()
	}()

	// The channel is push-only; drain and discard anything inbound.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) authenticate(r *http.Request) *user {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil
	}
	claims, err := s.tokens.parse(strings.TrimPrefix(header, "Bearer "), "access")
	if err != nil {
		return nil
	}
	return s.userByID(claims.Subject)
}

func (s *Server) userByID(id string) *user {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func hasLetterAndDigit(password string) bool {
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}
