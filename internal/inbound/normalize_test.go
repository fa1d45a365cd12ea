package inbound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freezeNow(t *testing.T, ts time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = prev })
}

func TestNormalizeTimestamp(t *testing.T) {
	require.Equal(t, int64(1700000000000), NormalizeTimestamp(1700000000))
	require.Equal(t, int64(1700000000000), NormalizeTimestamp(1700000000000))
	require.Equal(t, int64(999999999999000), NormalizeTimestamp(SecondsThreshold-1))
	require.Equal(t, SecondsThreshold, NormalizeTimestamp(SecondsThreshold))
}

func TestNormalize_MessagesArray(t *testing.T) {
	body := `{"messages":[
		{"from":"34600111222","chat_id":"34600111222@s.whatsapp.net","text":{"body":"Hola"},"timestamp":1700000000},
		{"sender":"34600111333","chatId":"34600111333@c.us","body":"Buenas","timestamp":"1700000000123"},
		{"from":"34600111444","chat_id":"34600111444@s.whatsapp.net","text":"Sí","timestamp":1700000001000}
	]}`

	msgs := Normalize([]byte(body))
	require.Len(t, msgs, 3)

	require.Equal(t, "34600111222@s.whatsapp.net", msgs[0].ConversationID)
	require.Equal(t, "34600111222", msgs[0].SenderAddress)
	require.Equal(t, "Hola", msgs[0].Text)
	require.Equal(t, int64(1700000000000), msgs[0].TimestampMillis)

	require.Equal(t, "34600111333@c.us", msgs[1].ConversationID)
	require.Equal(t, "34600111333", msgs[1].SenderAddress)
	require.Equal(t, "Buenas", msgs[1].Text)
	require.Equal(t, int64(1700000000123), msgs[1].TimestampMillis)

	require.Equal(t, "Sí", msgs[2].Text)
	require.Equal(t, int64(1700000001000), msgs[2].TimestampMillis)
}

func TestNormalize_SingleMessage(t *testing.T) {
	msgs := Normalize([]byte(`{"message":{"from":"1","chat_id":"c1","text":"hi","timestamp":1700000000}}`))
	require.Len(t, msgs, 1)
	require.Equal(t, "c1", msgs[0].ConversationID)
}

func TestNormalize_DropsSelfOriginatedAndMalformed(t *testing.T) {
	body := `{"messages":[
		{"from":"1","chat_id":"c1","text":"mine","from_me":true},
		{"from":"1","text":"no chat"},
		{"from":"1","chat_id":"c1"},
		{"from":"1","chat_id":"c1","text":{"nobody":"x"}},
		"not an object",
		{"from":"1","chat_id":"c1","text":"kept","from_me":false,"timestamp":1700000000}
	]}`
	msgs := Normalize([]byte(body))
	require.Len(t, msgs, 1)
	require.Equal(t, "kept", msgs[0].Text)
}

func TestNormalize_UnparseableTimestampDefaultsToNow(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	freezeNow(t, fixed)

	msgs := Normalize([]byte(`{"messages":[
		{"chat_id":"c1","text":"a","timestamp":"yesterday"},
		{"chat_id":"c1","text":"b"}
	]}`))
	require.Len(t, msgs, 2)
	require.Equal(t, fixed.UnixMilli(), msgs[0].TimestampMillis)
	require.Equal(t, fixed.UnixMilli(), msgs[1].TimestampMillis)
}

func TestNormalize_NeverFails(t *testing.T) {
	for _, body := range []string{"", "null", "[]", "not-json", `{"messages":"x"}`, `{"message":[1,2]}`, `{"messages":null}`} {
		require.NotPanics(t, func() {
			require.Empty(t, Normalize([]byte(body)), "body=%q", body)
		})
	}
}

func TestNormalize_OutOfRangeTimestampDefaultsToNow(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	freezeNow(t, fixed)

	msgs := Normalize([]byte(`{"messages":[
		{"chat_id":"c1","text":"a","timestamp":"1e30"},
		{"chat_id":"c1","text":"b","timestamp":1e300},
		{"chat_id":"c1","text":"c","timestamp":-5},
		{"chat_id":"c1","text":"d","timestamp":"-1.5e3"},
		{"chat_id":"c1","text":"e","timestamp":"1.7e9"}
	]}`))
	require.Len(t, msgs, 5)
	for _, m := range msgs[:4] {
		require.Equal(t, fixed.UnixMilli(), m.TimestampMillis, m.Text)
	}
	require.Equal(t, int64(1700000000000), msgs[4].TimestampMillis)
}
