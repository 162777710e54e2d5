package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/mediagate/internal/observability"
	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/finalizer"
	"github.com/harun/mediagate/pkg/protocol"
	"github.com/harun/mediagate/pkg/recording"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultPath         = "/ws"
	DefaultReadLimit    = 32 * 1024 * 1024
	DefaultWriteTimeout = 10 * time.Second
)

var newClientID = func() (string, error) { return gonanoid.New() }

// Finalizer turns a drained recording into an outcome.
type Finalizer interface {
	Finalize(ctx context.Context, drained <-chan recording.Artifact) <-chan finalizer.Outcome
}

// Server is the ingest gateway: it accepts producer connections and routes
// their frames to the recording registry.
type Server struct {
	host           string
	port           int
	path           string
	readLimit      int64
	writeTimeout   time.Duration
	startsPerMin   int
	maxPending     int
	allowedOrigins map[string]bool
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	recordings     *recording.Registry
	finalizer      Finalizer
	parser         *protocol.Parser
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	readers        sync.WaitGroup
	finalizing     sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// Path is the upgrade endpoint, "/ws" by default.
	Path string
	// ReadLimit is the largest accepted frame in bytes.
	ReadLimit      int64
	WriteTimeout   time.Duration
	AllowedOrigins []string
	// StartsPerMinute and MaxPendingFinishes bound each connection; zero
	// selects the default and a negative value disables the check.
	StartsPerMinute    int
	MaxPendingFinishes int
	Recordings         *recording.Registry
	Finalizer          Finalizer
	Logger             zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Recordings == nil {
		return nil, fmt.Errorf("recording registry is required")
	}
	if cfg.Finalizer == nil {
		return nil, fmt.Errorf("finalizer is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.StartsPerMinute == 0 {
		cfg.StartsPerMinute = DefaultStartsPerMinute
	}
	if cfg.MaxPendingFinishes == 0 {
		cfg.MaxPendingFinishes = DefaultMaxPendingFinishes
	}

	parser, err := protocol.NewParser()
	if err != nil {
		return nil, err
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origins[origin] = true
	}

	s := &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		path:           cfg.Path,
		readLimit:      cfg.ReadLimit,
		writeTimeout:   cfg.WriteTimeout,
		startsPerMin:   cfg.StartsPerMinute,
		maxPending:     cfg.MaxPendingFinishes,
		allowedOrigins: origins,
		clients:        NewClientRegistry(),
		recordings:     cfg.Recordings,
		finalizer:      cfg.Finalizer,
		parser:         parser,
		logger:         cfg.Logger.With().Str("component", "gateway").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 || s.allowedOrigins["*"] {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowedOrigins[origin]
}

// Handler returns the HTTP handler serving the upgrade, health and metrics
// endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprint(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Str("path", s.path).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new connections, closes every producer connection (which
// aborts their recordings) and waits for pending finalizations until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("clients", s.clients.Count()).Msg("Shutting down gateway server")

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		_ = client.Close()
	}

	if !waitGroup(ctx, &s.readers) {
		s.logger.Warn().Msg("Timed out waiting for connections to drain")
	}
	if !waitGroup(ctx, &s.finalizing) {
		s.logger.Warn().Msg("Timed out waiting for pending transcodes")
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

type healthResponse struct {
	Status      string `json:"status"`
	Recordings  int    `json:"recordings"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Recordings:  s.recordings.Count(),
		Connections: s.clients.Count(),
	}
	code := http.StatusOK
	if s.shuttingDown() {
		resp.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleWebSocket upgrades a producer connection. The optional query
// parameters profile and streamType select the binary framing convention.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	binary, err := binaryOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	clientID, err := newClientID()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate connection id")
		http.Error(w, "Failed to allocate connection", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(s.readLimit)

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		Binary:       binary,
		ctx:          tracing.NewConnectionContext(context.Background(), clientID),
		limiter:      NewStartLimiterWithLimits(s.startsPerMin, s.maxPending),
		writeTimeout: s.writeTimeout,
	}

	// Registration happens under shutdownMu so Stop either sees the client
	// in its close loop or the client sees the shutdown flag.
	if !s.register(client) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return
	}
	observability.ConnectionOpened()

	logger := tracing.LoggerFromContext(client.ctx, s.logger)
	logger.Info().
		Str("ip", r.RemoteAddr).
		Str("profile", binary.Profile.String()).
		Msg("Client connected")

	go s.handleClient(client)
}

// register adds client to the registry and the reader group unless the
// server is shutting down.
func (s *Server) register(client *Client) bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShuttingDown {
		return false
	}
	s.clients.Add(client)
	s.readers.Add(1)
	return true
}

func binaryOptions(r *http.Request) (protocol.BinaryOptions, error) {
	query := r.URL.Query()
	profile, err := protocol.ParseProfile(query.Get("profile"))
	if err != nil {
		return protocol.BinaryOptions{}, err
	}

	opts := protocol.BinaryOptions{Profile: profile}
	if profile == protocol.ProfilePlain {
		kind, err := recording.ParseStreamKind(query.Get("streamType"))
		if err != nil {
			return protocol.BinaryOptions{}, err
		}
		opts.Kind = kind
	}
	return opts, nil
}

// handleClient reads frames until the connection goes away, then aborts
// every recording the client still owns.
func (s *Server) handleClient(client *Client) {
	logger := tracing.LoggerFromContext(client.ctx, s.logger)

	defer func() {
		_ = client.Close()
		artifacts := s.recordings.CloseConnection(client.ctx, client.ID)
		s.clients.Remove(client.ID)
		observability.ConnectionClosed()
		logger.Info().Int("aborted_recordings", len(artifacts)).Msg("Client disconnected")
		s.readers.Done()
	}()

	for {
		messageType, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, messageType, message)
	}
}

// sendError sends an error reply to a client
func (s *Server) sendError(client *Client, message string) {
	s.send(client, protocol.NewErrorReply(message))
}

func (s *Server) send(client *Client, reply interface{}) {
	if err := client.Send(reply); err != nil {
		event := s.logger.Warn()
		if errors.Is(err, errClientClosed) {
			event = s.logger.Debug()
		}
		event.Err(err).Str("conn_id", client.ID).Msg("Failed to send reply")
	}
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
