package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/ratelimit"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
	"github.com/veilchat/veilchat/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

type server struct {
	hub   *ws.Hub
	store store.Store
	cfg   *config.Config
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	st, err := store.NewStore(globalConfig)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	limiter := ratelimit.NewLimiter(globalConfig.RateLimitConfig.MessagesPerSecond)
	hub := ws.NewHub(globalConfig, st, limiter)
	hub.Run()
	defer hub.Stop()

	s := &server{hub: hub, store: st, cfg: globalConfig}

	router := mux.NewRouter()
	router.HandleFunc("/ws/{room:[a-zA-Z0-9_-]+}", s.websocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/rooms", s.listRoomsHandler).Methods(http.MethodGet)
	router.HandleFunc("/rooms", s.createRoomHandler).Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room}/sync", s.roomSyncHandler).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room}", s.deleteRoomHandler).Methods(http.MethodDelete)
	router.HandleFunc("/rooms/{room}/ban", s.banHandler).Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room}/system", s.systemMessageHandler).Methods(http.MethodPost)
	http.Handle("/", router)

	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// clientIP resolves the network origin for ban checks: the trusted proxy
// header when one is configured, the raw peer address otherwise.
func clientIP(r *http.Request, proxyHeader string) string {
	if proxyHeader != "" {
		if val := r.Header.Get(proxyHeader); val != "" {
			return strings.TrimSpace(strings.Split(val, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Handle incoming websockets: identity validation before the upgrade,
// admission policy after it (so the rejection can carry a close code).
func (s *server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomId := vars["room"]
	vals := r.URL.Query()
	userId := vals.Get("user")
	if roomId == "" || userId == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	displayName := vals.Get("name")
	capacity := 0
	if capStr := vals.Get("capacity"); capStr != "" {
		capacity, _ = strconv.Atoi(capStr)
	}
	originIP := clientIP(r, s.cfg.ProxyHeader)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	c := ws.NewClient(s.hub, conn, roomId, userId, originIP)
	participant, err := s.hub.Admit(roomId, userId, displayName, capacity, originIP)
	if err != nil {
		code := types.CloseBadRequest
		reason := "bad request"
		var admErr *ws.AdmissionError
		if errors.As(err, &admErr) {
			code = admErr.Code
			reason = admErr.Reason
		}
		globals.AppLogger.Info("admission rejected", "room", roomId, "user", userId, "reason", reason)
		c.CloseWithCode(code, reason)
		return
	}
	s.hub.Register(c, participant)
	go c.WriteLoop()
	c.ReadLoop()
}

type roomListing struct {
	*types.Room
	OnlineCount int `json:"onlineCount"`
}

func (s *server) listRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListPublicRooms()
	if err != nil {
		globals.AppLogger.Error("could not list rooms", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	listings := make([]roomListing, 0, len(rooms))
	for _, room := range rooms {
		listings = append(listings, roomListing{Room: room, OnlineCount: s.hub.OnlineCount(room.Id)})
	}
	writeJSON(w, listings)
}

func (s *server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	room := types.Room{}
	if err := json.NewDecoder(r.Body).Decode(&room); err != nil || room.Id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if room.MaxParticipants < types.DefaultMaxParticipants {
		room.MaxParticipants = types.DefaultMaxParticipants
	}
	if err := s.store.CreateRoom(&room); err != nil {
		globals.AppLogger.Error("could not create room", "room", room.Id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, &room)
}

func (s *server) roomSyncHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	room, err := s.store.GetRoom(roomId)
	if err == store.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	msgs, err := s.hub.SyncMessages(roomId)
	if err != nil {
		globals.AppLogger.Error("could not sync messages", "room", roomId, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"messages":     msgs,
		"theme":        types.ThemeContent{Mode: room.ThemeMode, Theme: room.Theme},
		"participants": s.hub.ParticipantList(roomId),
	})
}

func (s *server) deleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	if err := s.store.DeleteRoom(roomId); err != nil {
		globals.AppLogger.Error("could not delete room", "room", roomId, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type banRequest struct {
	UserId string `json:"userId"`
	IP     string `json:"ip"`
	Shadow bool   `json:"shadow"`
}

func (s *server) banHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	req := banRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.UserId == "" && req.IP == "") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// a shadow ban flips the participant to ghost mode instead of blocking
	if req.Shadow && req.UserId != "" {
		participant, err := s.store.GetParticipant(roomId, req.UserId)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		participant.Ghost = true
		if err := s.store.UpdateParticipant(participant); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.hub.MarkGhost(roomId, req.UserId)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.UserId != "" {
		if err := s.store.BanUser(roomId, req.UserId); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	if req.IP != "" {
		if err := s.store.BanIP(roomId, req.IP); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) systemMessageHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	req := struct {
		Content string `json:"content"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.hub.SystemMessage(roomId, req.Content)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not encode response", "error", err)
	}
}
