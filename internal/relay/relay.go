package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/veilchess/veilchess/internal/mailbox"
	"github.com/veilchess/veilchess/internal/obslog"
	"github.com/veilchess/veilchess/internal/transport"
)

// Server is the rendezvous relay. It pairs the two websocket peers of
// a room and forwards their frames verbatim and in order; it cannot
// read application data once the peers' encryption session is up. It
// also serves the invite mailbox REST endpoints.
type Server struct {
	box *mailbox.Manager

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	conns []*websocket.Conn
}

func NewServer(box *mailbox.Manager) *Server {
	return &Server{box: box, rooms: make(map[string]*room)}
}

// Handler mounts the relay endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	mux.HandleFunc("POST /v1/box", s.handleCreateInvite)
	mux.HandleFunc("GET /v1/box/{code}/offer", s.handleGetOffer)
	mux.HandleFunc("POST /v1/box/{code}/answer", s.handlePostAnswer)
	mux.HandleFunc("GET /v1/box/{code}/answer", s.handleGetAnswer)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomID == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("relay_accept_error", zap.String("room", roomID), zap.Error(err))
		return
	}

	peer, full := s.register(roomID, conn)
	if full {
		_ = conn.Close(websocket.StatusPolicyViolation, "room full")
		return
	}
	obslog.L().Info("relay_peer_join", zap.String("room", roomID), zap.Bool("paired", peer != nil))

	ctx := r.Context()
	if peer != nil {
		// Second peer arrived: both sides are now connected.
		paired := &transport.RelayFrame{Type: transport.FramePaired}
		_ = write(ctx, peer, paired)
		_ = write(ctx, conn, paired)
	}

	s.pump(ctx, roomID, conn)
}

// register adds conn to the room. Returns the already-present peer (nil
// for the first arrival) and whether the room was already full.
func (s *Server) register(roomID string, conn *websocket.Conn) (*websocket.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.rooms[roomID] = &room{conns: []*websocket.Conn{conn}}
		return nil, false
	}
	if len(rm.conns) >= 2 {
		return nil, true
	}
	rm.conns = append(rm.conns, conn)
	return rm.conns[0], false
}

func (s *Server) other(roomID string, conn *websocket.Conn) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	for _, c := range rm.conns {
		if c != conn {
			return c
		}
	}
	return nil
}

func (s *Server) unregister(roomID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[roomID]
	if !ok {
		return
	}
	kept := rm.conns[:0]
	for _, c := range rm.conns {
		if c != conn {
			kept = append(kept, c)
		}
	}
	rm.conns = kept
	if len(rm.conns) == 0 {
		delete(s.rooms, roomID)
	}
}

// pump forwards data frames from conn to its room peer until conn dies.
func (s *Server) pump(ctx context.Context, roomID string, conn *websocket.Conn) {
	defer func() {
		s.unregister(roomID, conn)
		if peer := s.other(roomID, conn); peer != nil {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = write(notifyCtx, peer, &transport.RelayFrame{Type: transport.FramePeerGone})
			cancel()
		}
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}()

	for {
		var frame transport.RelayFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if frame.Type != transport.FrameData {
			continue
		}
		peer := s.other(roomID, conn)
		if peer == nil {
			// No peer yet; ordered delivery starts after pairing.
			continue
		}
		if err := write(ctx, peer, &frame); err != nil {
			obslog.L().Warn("relay_forward_error", zap.String("room", roomID), zap.Error(err))
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, frame *transport.RelayFrame) error {
	return wsjson.Write(ctx, conn, frame)
}

// Mailbox REST.

type createInviteRequest struct {
	Offer string `json:"offer"`
}

type createInviteResponse struct {
	Code string `json:"code"`
}

type offerResponse struct {
	Offer string `json:"offer"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Offer) == "" {
		http.Error(w, "offer required", http.StatusBadRequest)
		return
	}
	code, err := s.box.CreateInvite(r.Context(), req.Offer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, &createInviteResponse{Code: code})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.box.Offer(r.Context(), r.PathValue("code"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, &offerResponse{Offer: offer})
}

func (s *Server) handlePostAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Answer) == "" {
		http.Error(w, "answer required", http.StatusBadRequest)
		return
	}
	switch err := s.box.PostAnswer(r.Context(), r.PathValue("code"), req.Answer); err {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case mailbox.ErrNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case mailbox.ErrHasAnswer:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	answer, err := s.box.Answer(r.Context(), r.PathValue("code"))
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, &answerResponse{Answer: answer})
	case mailbox.ErrNoAnswer:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, err.Error(), http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
