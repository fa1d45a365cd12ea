// Package inbound turns raw webhook bodies into normalized inbound messages.
package inbound

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"lead-qualifier/internal/domain"
)

// SecondsThreshold separates second and millisecond timestamps. Values below it
// are treated as seconds.
const SecondsThreshold int64 = 1_000_000_000_000

var now = time.Now

// Normalize extracts inbound messages from a webhook body. It never fails:
// undecodable bodies, self-originated entries and entries without a chat id or
// text are dropped.
func Normalize(body []byte) []domain.InboundMessage {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil
	}

	var raw []any
	switch v := root["messages"].(type) {
	case []any:
		raw = v
	default:
		if single, ok := root["message"].(map[string]any); ok {
			raw = []any{single}
		}
	}

	out := make([]domain.InboundMessage, 0, len(raw))
	for _, entry := range raw {
		msg, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if fromMe, _ := msg["from_me"].(bool); fromMe {
			continue
		}
		chatID := firstString(msg, "chat_id", "chatId")
		text := messageText(msg)
		if chatID == "" || text == "" {
			continue
		}
		out = append(out, domain.InboundMessage{
			ConversationID:  chatID,
			SenderAddress:   firstString(msg, "from", "sender"),
			Text:            text,
			TimestampMillis: parseTimestamp(msg["timestamp"]),
		})
	}
	return out
}

// NormalizeTimestamp converts a second or millisecond timestamp to milliseconds.
func NormalizeTimestamp(ts int64) int64 {
	if ts < SecondsThreshold {
		return ts * 1000
	}
	return ts
}

func firstString(msg map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := msg[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func messageText(msg map[string]any) string {
	switch t := msg["text"].(type) {
	case string:
		if t != "" {
			return t
		}
	case map[string]any:
		if body, ok := t["body"].(string); ok && body != "" {
			return body
		}
	}
	s, _ := msg["body"].(string)
	return s
}

func parseTimestamp(v any) int64 {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return now().UnixMilli()
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return now().UnixMilli()
		}
		return NormalizeTimestamp(n)
	}
	f, err := strconv.ParseFloat(raw, 64)
	// Values outside int64 have no defined conversion.
	if err != nil || math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		return now().UnixMilli()
	}
	return NormalizeTimestamp(int64(f))
}
