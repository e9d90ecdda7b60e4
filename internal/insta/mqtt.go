package insta

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Minimal MQTT 3.1.1 framing for the realtime broker. The broker speaks the
// "MQTToT" dialect: standard control packets, but the CONNECT payload is a
// zlib-compressed JSON blob carrying the session identity instead of the
// username/password fields.

const (
	packetConnect    = 1
	packetConnAck    = 2
	packetPublish    = 3
	packetSubscribe  = 8
	packetSubAck     = 9
	packetPingReq    = 12
	packetPingResp   = 13
	packetDisconnect = 14

	maxRemainingLength = 268435455
)

var errMalformedPacket = errors.New("malformed mqtt packet")

type packet struct {
	kind    byte
	flags   byte
	payload []byte
}

// encodeRemainingLength writes the MQTT variable-length int (1 to 4 bytes).
func encodeRemainingLength(n int) []byte {
	buf := make([]byte, 0, 4)
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if n == 0 {
			return buf
		}
	}
}

// decodeRemainingLength reads the variable-length int, returning the value
// and the number of bytes consumed.
func decodeRemainingLength(data []byte) (int, int, error) {
	value := 0
	multiplier := 1
	for i := 0; i < 4; i++ {
		if i >= len(data) {
			return 0, 0, errMalformedPacket
		}
		b := data[i]
		value += int(b&0x7F) * multiplier
		if b&0x80 == 0 {
			if value > maxRemainingLength {
				return 0, 0, errMalformedPacket
			}
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, errMalformedPacket
}

// encodeString writes a length-prefixed UTF-8 string.
func encodeString(s string) []byte {
	buf := make([]byte, 2+len(s))
	buf[0] = byte(len(s) >> 8)
	buf[1] = byte(len(s))
	copy(buf[2:], s)
	return buf
}

func encodePacket(kind, flags byte, body []byte) []byte {
	header := []byte{kind<<4 | flags&0x0F}
	header = append(header, encodeRemainingLength(len(body))...)
	return append(header, body...)
}

// parsePacket decodes one packet from data, returning it and the number of
// bytes consumed so callers can walk frames carrying several packets.
func parsePacket(data []byte) (packet, int, error) {
	if len(data) < 2 {
		return packet{}, 0, errMalformedPacket
	}
	length, n, err := decodeRemainingLength(data[1:])
	if err != nil {
		return packet{}, 0, err
	}
	total := 1 + n + length
	if len(data) < total {
		return packet{}, 0, errMalformedPacket
	}
	return packet{
		kind:    data[0] >> 4,
		flags:   data[0] & 0x0F,
		payload: data[1+n : total],
	}, total, nil
}

// connectPayload is the MQTToT identity blob sent inside CONNECT.
type connectPayload struct {
	ClientID      string `json:"client_identifier"`
	DeviceID      string `json:"device_id"`
	UserID        int64  `json:"user_id"`
	SessionCookie string `json:"session_cookie"`
	UserAgent     string `json:"user_agent"`
	ClientType    string `json:"client_type"`
}

// encodeConnect builds the MQTToT CONNECT packet for a session.
func encodeConnect(s *Session, keepalive uint16) ([]byte, error) {
	clientID := s.DeviceID
	if len(clientID) > 20 {
		clientID = clientID[:20]
	}
	identity, err := json.Marshal(connectPayload{
		ClientID:      clientID,
		DeviceID:      s.DeviceID,
		UserID:        s.UserID,
		SessionCookie: s.Cookie("sessionid"),
		UserAgent:     igUserAgent,
		ClientType:    "cookie_auth",
	})
	if err != nil {
		return nil, fmt.Errorf("encode connect payload: %w", err)
	}
	compressed, err := deflate(identity)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	body.Write(encodeString("MQTToT"))
	body.WriteByte(3)    // protocol level
	body.WriteByte(0x02) // clean session
	body.WriteByte(byte(keepalive >> 8))
	body.WriteByte(byte(keepalive))
	body.Write(compressed)
	return encodePacket(packetConnect, 0, body.Bytes()), nil
}

// encodeSubscribe builds a SUBSCRIBE packet for the topics at QoS 0.
func encodeSubscribe(packetID uint16, topics []string) []byte {
	var body bytes.Buffer
	body.WriteByte(byte(packetID >> 8))
	body.WriteByte(byte(packetID))
	for _, t := range topics {
		body.Write(encodeString(t))
		body.WriteByte(0) // requested QoS
	}
	return encodePacket(packetSubscribe, 0x02, body.Bytes())
}

// encodePublish builds a QoS 0 PUBLISH with a zlib-compressed payload.
func encodePublish(topic string, payload []byte) ([]byte, error) {
	compressed, err := deflate(payload)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	body.Write(encodeString(topic))
	body.Write(compressed)
	return encodePacket(packetPublish, 0, body.Bytes()), nil
}

// parsePublish extracts the topic and decompressed payload from a PUBLISH.
func parsePublish(pkt packet) (string, []byte, error) {
	data := pkt.payload
	if len(data) < 2 {
		return "", nil, errMalformedPacket
	}
	topicLen := int(data[0])<<8 | int(data[1])
	if len(data) < 2+topicLen {
		return "", nil, errMalformedPacket
	}
	topic := string(data[2 : 2+topicLen])
	rest := data[2+topicLen:]

	qos := (pkt.flags >> 1) & 0x03
	if qos > 0 {
		if len(rest) < 2 {
			return "", nil, errMalformedPacket
		}
		rest = rest[2:] // packet identifier
	}

	payload, err := inflate(rest)
	if err != nil {
		// Some control topics publish uncompressed JSON.
		return topic, rest, nil
	}
	return topic, payload, nil
}

func pingReqPacket() []byte {
	return encodePacket(packetPingReq, 0, nil)
}

func disconnectPacket() []byte {
	return encodePacket(packetDisconnect, 0, nil)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}
