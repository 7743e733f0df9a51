package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/jobs"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/auth"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every server-to-client frame
type WSMessage struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic,omitempty"`
	Payload interface{} `json:"payload"`
}

// clientMessage is the envelope for client-to-server frames
type clientMessage struct {
	Action string   `json:"action"` // "subscribe", "unsubscribe", "job_status", "queue_stats", "ping"
	Topics []string `json:"topics,omitempty"`
	JobID  string   `json:"job_id,omitempty"`
}

// WebSocketHandler is the realtime broadcaster: it owns client connections,
// the topic registry and all outbound frames. Per-connection write mutexes
// serialize writers; gorilla/websocket allows at most one concurrent writer.
type WebSocketHandler struct {
	logger      arbor.ILogger
	clients     map[*websocket.Conn]*interfaces.Principal
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex

	topics     *topicRegistry
	verifier   interfaces.TokenVerifier
	allowGuest bool

	allowedEvents map[string]bool          // Whitelist of message types to broadcast (empty = allow all)
	throttlers    map[string]*rate.Limiter // Per-message-type rate limiters

	manager          *jobs.Manager
	metricsService   *metrics.Service
	metricsInterval  time.Duration
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart

	cancel context.CancelFunc
}

// NewWebSocketHandler creates the broadcaster
func NewWebSocketHandler(manager *jobs.Manager, metricsService *metrics.Service, verifier interfaces.TokenVerifier, config *common.Config, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*interfaces.Principal),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		topics:           newTopicRegistry(),
		verifier:         verifier,
		allowGuest:       config.Auth.AllowGuest,
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
		manager:          manager,
		metricsService:   metricsService,
		metricsInterval:  common.Duration(config.WebSocket.MetricsInterval, 5*time.Second),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	for _, eventType := range config.WebSocket.AllowedEvents {
		h.allowedEvents[eventType] = true
	}
	if len(h.allowedEvents) > 0 {
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	for eventType, intervalStr := range config.WebSocket.ThrottleIntervals {
		duration, err := time.ParseDuration(intervalStr)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event_type", eventType).
				Str("interval", intervalStr).
				Msg("Failed to parse throttle interval - throttler disabled")
			continue
		}
		h.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
		logger.Debug().
			Str("event_type", eventType).
			Str("interval", intervalStr).
			Msg("Throttler initialized")
	}

	return h
}

// HandleWebSocket upgrades and serves one realtime client connection
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal := h.authenticate(r)
	if principal == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = principal
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("principal", principal.Name).
		Bool("guest", principal.Guest).
		Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendToConn(conn, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"principal":          principal,
			"server_instance_id": h.serverInstanceID,
			"server_time":        time.Now().Format(time.RFC3339),
		},
	})

	defer func() {
		h.topics.removeConn(conn)

		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(conn, "invalid message format")
			continue
		}
		h.handleClientMessage(conn, msg)
	}
}

// authenticate resolves the connection's principal from its token, degrading
// to guest when permitted
func (h *WebSocketHandler) authenticate(r *http.Request) *interfaces.Principal {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	if h.verifier != nil && token != "" {
		if principal, err := h.verifier.Verify(token); err == nil {
			return principal
		}
		h.logger.Debug().Msg("Token verification failed")
	}

	if h.allowGuest {
		return auth.Guest()
	}
	return nil
}

func (h *WebSocketHandler) handleClientMessage(conn *websocket.Conn, msg clientMessage) {
	switch msg.Action {
	case "subscribe":
		h.handleSubscribe(conn, msg.Topics)
	case "unsubscribe":
		for _, topic := range msg.Topics {
			h.topics.unsubscribe(conn, topic)
		}
		h.sendToConn(conn, WSMessage{
			Type:    "unsubscribed",
			Payload: map[string]interface{}{"topics": msg.Topics},
		})
	case "job_status":
		job, err := h.manager.GetJob(msg.JobID)
		if err != nil {
			h.sendError(conn, "job not found: "+msg.JobID)
			return
		}
		h.sendToConn(conn, WSMessage{
			Type:    "job_status",
			Topic:   JobTopic(job.ID),
			Payload: job,
		})
	case "queue_stats":
		stats, err := h.manager.QueueStats(context.Background())
		if err != nil {
			h.sendError(conn, "queue stats unavailable")
			return
		}
		h.sendToConn(conn, WSMessage{Type: "queue_stats", Payload: stats})
	case "ping":
		h.sendToConn(conn, WSMessage{
			Type: "pong",
			Payload: map[string]interface{}{
				"server_time":        time.Now().Format(time.RFC3339),
				"server_instance_id": h.serverInstanceID,
			},
		})
	default:
		h.sendError(conn, "unknown action: "+msg.Action)
	}
}

// handleSubscribe registers valid topics and pushes the current job snapshot
// to new jobs_all subscribers so they never start from a blank state
func (h *WebSocketHandler) handleSubscribe(conn *websocket.Conn, topics []string) {
	var accepted, rejected []string
	for _, topic := range topics {
		if !validTopic(topic) {
			rejected = append(rejected, topic)
			continue
		}
		h.topics.subscribe(conn, topic)
		accepted = append(accepted, topic)
	}

	payload := map[string]interface{}{"topics": accepted}
	if len(rejected) > 0 {
		payload["rejected"] = rejected
	}
	h.sendToConn(conn, WSMessage{Type: "subscribed", Payload: payload})

	for _, topic := range accepted {
		if topic == TopicJobsAll {
			h.sendJobsSnapshot(conn)
			break
		}
	}
}

// sendJobsSnapshot pushes the current job list to a single connection
func (h *WebSocketHandler) sendJobsSnapshot(conn *websocket.Conn) {
	list := h.manager.ListJobs(jobs.ListOptions{})
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	h.sendToConn(conn, WSMessage{
		Type:  "jobs_snapshot",
		Topic: TopicJobsAll,
		Payload: map[string]interface{}{
			"jobs":   list,
			"counts": h.manager.CountByStatus(),
		},
	})
}

// BroadcastToTopic sends a message to every subscriber of a topic, honoring
// the event whitelist and per-type throttles
func (h *WebSocketHandler) BroadcastToTopic(topic, msgType string, payload interface{}) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[msgType] {
		return
	}
	if throttler, ok := h.throttlers[msgType]; ok && !throttler.Allow() {
		return
	}

	conns := h.topics.subscribers(topic)
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{Type: msgType, Topic: topic, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal broadcast message")
		return
	}

	for _, conn := range conns {
		h.writeRaw(conn, data)
	}
}

// BroadcastJobEvent fans a job update out to its three list scopes plus the
// job's own topic
func (h *WebSocketHandler) BroadcastJobEvent(msgType string, job *models.Job, payload interface{}) {
	h.BroadcastToTopic(TopicJobsAll, msgType, payload)
	h.BroadcastToTopic(TypeTopic(job.Type), msgType, payload)
	h.BroadcastToTopic(StatusTopic(job.Status), msgType, payload)
	h.BroadcastToTopic(JobTopic(job.ID), msgType, payload)
}

// StartMetricsLoop begins the periodic system_metrics push
func (h *WebSocketHandler) StartMetricsLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		ticker := time.NewTicker(h.metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if len(h.topics.subscribers(TopicSystemMetrics)) == 0 {
					continue
				}
				h.BroadcastToTopic(TopicSystemMetrics, "system_metrics", h.metricsService.SystemMetrics(ctx))
			}
		}
	}()
}

// Shutdown notifies every client, then closes all connections
func (h *WebSocketHandler) Shutdown() {
	if h.cancel != nil {
		h.cancel()
	}

	data, err := json.Marshal(WSMessage{
		Type: "shutdown",
		Payload: map[string]interface{}{
			"message":     "server shutting down",
			"server_time": time.Now().Format(time.RFC3339),
		},
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.writeRaw(conn, data)
		conn.Close()
	}

	h.logger.Info().Int("clients", len(conns)).Msg("WebSocket handler shut down")
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, message string) {
	h.sendToConn(conn, WSMessage{
		Type:    "error",
		Payload: map[string]interface{}{"message": message},
	})
}

func (h *WebSocketHandler) sendToConn(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal message")
		return
	}
	h.writeRaw(conn, data)
}

// writeRaw serializes access to the connection's writer
func (h *WebSocketHandler) writeRaw(conn *websocket.Conn, data []byte) {
	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	err := conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send message to client")
	}
}
