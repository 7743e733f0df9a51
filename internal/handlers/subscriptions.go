package handlers

import (
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// Well-known topics; job-scoped and filtered topics are derived at runtime
const (
	TopicJobsAll       = "jobs_all"
	TopicAuditLogs     = "audit_logs"
	TopicSystemMetrics = "system_metrics"

	topicJobPrefix    = "job_"
	topicTypePrefix   = "jobs_"
	topicStatusPrefix = "jobs_status_"
)

// TypeTopic returns the per-job-type topic name
func TypeTopic(jobType models.JobType) string {
	return topicTypePrefix + string(jobType)
}

// StatusTopic returns the per-status topic name
func StatusTopic(status models.JobStatus) string {
	return topicStatusPrefix + string(status)
}

// JobTopic returns the single-job topic name
func JobTopic(jobID string) string {
	return topicJobPrefix + jobID
}

// validTopic reports whether a client-supplied topic name is recognized.
// Unknown topics are rejected at subscribe time so typos surface immediately.
func validTopic(topic string) bool {
	switch topic {
	case TopicJobsAll, TopicAuditLogs, TopicSystemMetrics:
		return true
	}

	if strings.HasPrefix(topic, topicStatusPrefix) {
		status := models.JobStatus(strings.TrimPrefix(topic, topicStatusPrefix))
		switch status {
		case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusPaused,
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
			return true
		}
		return false
	}

	if strings.HasPrefix(topic, topicTypePrefix) {
		jobType := models.JobType(strings.TrimPrefix(topic, topicTypePrefix))
		for _, t := range models.AllJobTypes() {
			if jobType == t {
				return true
			}
		}
		return false
	}

	// Single-job topics carry an opaque id; existence is not checked so
	// clients can subscribe before the create response arrives
	return strings.HasPrefix(topic, topicJobPrefix) && len(topic) > len(topicJobPrefix)
}

// topicRegistry tracks which connections subscribe to which topics.
// Empty topic sets are deleted on the spot so the map never accumulates
// tombstones for finished jobs.
type topicRegistry struct {
	mu      sync.RWMutex
	byTopic map[string]map[*websocket.Conn]bool
	byConn  map[*websocket.Conn]map[string]bool
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{
		byTopic: make(map[string]map[*websocket.Conn]bool),
		byConn:  make(map[*websocket.Conn]map[string]bool),
	}
}

func (r *topicRegistry) subscribe(conn *websocket.Conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byTopic[topic] == nil {
		r.byTopic[topic] = make(map[*websocket.Conn]bool)
	}
	r.byTopic[topic][conn] = true

	if r.byConn[conn] == nil {
		r.byConn[conn] = make(map[string]bool)
	}
	r.byConn[conn][topic] = true
}

func (r *topicRegistry) unsubscribe(conn *websocket.Conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs := r.byTopic[topic]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(r.byTopic, topic)
		}
	}
	if topics := r.byConn[conn]; topics != nil {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.byConn, conn)
		}
	}
}

// removeConn drops every subscription held by a disconnecting client
func (r *topicRegistry) removeConn(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.byConn[conn] {
		if subs := r.byTopic[topic]; subs != nil {
			delete(subs, conn)
			if len(subs) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
	delete(r.byConn, conn)
}

// subscribers returns a snapshot of the connections on a topic
func (r *topicRegistry) subscribers(topic string) []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byTopic[topic]
	if len(subs) == 0 {
		return nil
	}
	conns := make([]*websocket.Conn, 0, len(subs))
	for conn := range subs {
		conns = append(conns, conn)
	}
	return conns
}

// topics returns a snapshot of a connection's subscriptions
func (r *topicRegistry) topics(conn *websocket.Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byConn[conn]
	if len(set) == 0 {
		return nil
	}
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	return topics
}

func (r *topicRegistry) topicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}
