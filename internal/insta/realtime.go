package insta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultRealtimeURL = "wss://edge-chat.instagram.com/chat"

	realtimeKeepalive    = 20 * time.Second
	realtimeReadTimeout  = 60 * time.Second
	realtimeWriteTimeout = 10 * time.Second

	topicMessageSync  = "/ig_message_sync"
	topicSendMessage  = "/ig_send_message"
	topicSendResponse = "/ig_send_message_response"
	topicSubIris      = "/ig_sub_iris"
	topicPubSub       = "/pubsub"
)

// Realtime is the push channel: an MQTT session over websocket that streams
// inbox mutations as they happen. One instance serves one connection; after
// a disconnect event the instance is spent and a new one must be dialed.
type Realtime struct {
	url     string
	dialer  *websocket.Dialer
	logger  *slog.Logger
	session *Session

	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	once    sync.Once
}

// RealtimeConfig configures the push channel.
type RealtimeConfig struct {
	Session *Session
	Logger  *slog.Logger
	URL     string            // override for tests
	Dialer  *websocket.Dialer // override for tests
}

func NewRealtime(cfg RealtimeConfig) *Realtime {
	u := cfg.URL
	if u == "" {
		u = defaultRealtimeURL
	}
	d := cfg.Dialer
	if d == nil {
		d = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Realtime{
		url:     u,
		dialer:  d,
		logger:  logger,
		session: cfg.Session,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
}

// Events returns the stream of push events. The channel is never closed;
// an EventDisconnect marks the end of the connection's useful life.
func (r *Realtime) Events() <-chan Event {
	return r.events
}

// Connect dials the broker, completes the MQTT handshake, subscribes to the
// direct topics, and anchors the Iris subscription at the inbox baseline.
func (r *Realtime) Connect(ctx context.Context, seqID, snapshotAtMs int64) error {
	header := map[string][]string{
		"User-Agent": {igUserAgent},
		"Origin":     {"https://www.instagram.com"},
	}
	conn, _, err := r.dialer.DialContext(ctx, r.url, header)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	r.conn = conn

	connect, err := encodeConnect(r.session, uint16(realtimeKeepalive/time.Second))
	if err != nil {
		conn.Close()
		return err
	}
	if err := r.write(connect); err != nil {
		conn.Close()
		return fmt.Errorf("send connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(realtimeReadTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read connack: %w", err)
	}
	pkt, _, err := parsePacket(frame)
	if err != nil {
		conn.Close()
		return err
	}
	if pkt.kind != packetConnAck {
		conn.Close()
		return fmt.Errorf("expected connack, got packet type %d", pkt.kind)
	}
	if len(pkt.payload) < 2 || pkt.payload[1] != 0 {
		conn.Close()
		code := byte(0xFF)
		if len(pkt.payload) >= 2 {
			code = pkt.payload[1]
		}
		return fmt.Errorf("broker refused connection (code %d)", code)
	}

	topics := []string{topicMessageSync, topicSendResponse, topicPubSub}
	if err := r.write(encodeSubscribe(1, topics)); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	iris, err := json.Marshal(map[string]int64{
		"seq_id":         seqID,
		"snapshot_at_ms": snapshotAtMs,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("encode iris subscription: %w", err)
	}
	pub, err := encodePublish(topicSubIris, iris)
	if err != nil {
		conn.Close()
		return err
	}
	if err := r.write(pub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe iris: %w", err)
	}

	r.logger.Debug("realtime connected", "seq_id", seqID)
	go r.readLoop()
	go r.pingLoop()
	return nil
}

// SendText publishes a message over the realtime channel.
func (r *Realtime) SendText(threadID, text, clientContext string) error {
	payload, err := json.Marshal(map[string]string{
		"action":         "send_item",
		"item_type":      "text",
		"thread_id":      threadID,
		"text":           text,
		"client_context": clientContext,
	})
	if err != nil {
		return fmt.Errorf("encode send: %w", err)
	}
	pub, err := encodePublish(topicSendMessage, payload)
	if err != nil {
		return err
	}
	return r.write(pub)
}

// Close tears the connection down. Safe to call more than once and safe
// concurrently with the read loop.
func (r *Realtime) Close() {
	r.once.Do(func() {
		close(r.done)
		if r.conn != nil {
			r.writeMu.Lock()
			r.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
			r.conn.WriteMessage(websocket.BinaryMessage, disconnectPacket())
			r.writeMu.Unlock()
			r.conn.Close()
		}
	})
}

func (r *Realtime) write(data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
	return r.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (r *Realtime) readLoop() {
	for {
		r.conn.SetReadDeadline(time.Now().Add(realtimeReadTimeout))
		_, frame, err := r.conn.ReadMessage()
		if err != nil {
			r.emit(Event{Type: EventDisconnect, Err: err, Reason: "read failed"})
			return
		}
		for len(frame) > 0 {
			pkt, n, err := parsePacket(frame)
			if err != nil {
				r.logger.Warn("discarding malformed frame", "error", err)
				break
			}
			frame = frame[n:]
			r.handlePacket(pkt)
		}
	}
}

func (r *Realtime) pingLoop() {
	ticker := time.NewTicker(realtimeKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.write(pingReqPacket()); err != nil {
				return
			}
		}
	}
}

func (r *Realtime) handlePacket(pkt packet) {
	switch pkt.kind {
	case packetPublish:
		topic, payload, err := parsePublish(pkt)
		if err != nil {
			r.logger.Warn("bad publish packet", "error", err)
			return
		}
		r.handlePublish(topic, payload)
	case packetPingResp, packetSubAck:
		// expected housekeeping
	default:
		r.logger.Debug("ignoring packet", "type", pkt.kind)
	}
}

func (r *Realtime) handlePublish(topic string, payload []byte) {
	switch topic {
	case topicMessageSync:
		events, err := decodeMessageSync(payload)
		if err != nil {
			r.emit(Event{Type: EventWarning, Err: err, Reason: "undecodable sync payload"})
			return
		}
		for _, ev := range events {
			r.emit(ev)
		}
	case topicSendResponse:
		r.logger.Debug("send acknowledged")
	case topicPubSub:
		// presence and live notifications, not needed here
	default:
		r.logger.Debug("publish on unexpected topic", "topic", topic)
	}
}

func (r *Realtime) emit(ev Event) {
	select {
	case <-r.done:
	case r.events <- ev:
	}
}

// irisEnvelope is one entry of the /ig_message_sync payload.
type irisEnvelope struct {
	Event string   `json:"event"`
	SeqID int64    `json:"seq_id"`
	Data  []irisOp `json:"data"`
}

type irisOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// decodeMessageSync turns an Iris sync payload into events. Each patch op
// addresses an inbox entity by path; item paths look like
// /direct_v2/threads/<thread>/items/<item> and carry the item JSON as a
// string value. Paths for other entities are skipped.
func decodeMessageSync(data []byte) ([]Event, error) {
	var envelopes []irisEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("decode message sync: %w", err)
	}

	var events []Event
	for _, env := range envelopes {
		for _, op := range env.Data {
			if op.Op != "add" && op.Op != "replace" {
				continue
			}
			parts := strings.Split(strings.Trim(op.Path, "/"), "/")
			if len(parts) < 4 || parts[0] != "direct_v2" || parts[1] != "threads" {
				continue
			}
			threadID := parts[2]
			switch parts[3] {
			case "items":
				var item ThreadItem
				if err := json.Unmarshal([]byte(op.Value), &item); err != nil {
					return nil, fmt.Errorf("decode item at %s: %w", op.Path, err)
				}
				events = append(events, Event{
					Type:     EventMessage,
					ThreadID: threadID,
					Item:     &item,
					SenderID: item.UserID,
				})
			case "activity_indicator_id":
				events = append(events, Event{Type: EventTyping, ThreadID: threadID})
			}
		}
	}
	return events, nil
}
