package chat

import (
	"math/rand"
	"testing"

	"github.com/rajivgeraev/flippy-market/internal/models"
)

func msg(ts int64, sender string) models.Message {
	return models.Message{Timestamp: ts, Sender: sender, Text: "m"}
}

func keys(msgs []models.Message) []models.MessageKey {
	out := make([]models.MessageKey, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key()
	}
	return out
}

func TestHistoryOrderAndDedup(t *testing.T) {
	h := newHistory([]models.Message{msg(100, "u1"), msg(300, "u2"), msg(100, "u1"), msg(200, "u1"), msg(200, "a")})

	want := []models.MessageKey{{Timestamp: 300, Sender: "u2"}, {Timestamp: 200, Sender: "a"}, {Timestamp: 200, Sender: "u1"}, {Timestamp: 100, Sender: "u1"}}
	got := keys(h.messages)
	if len(got) != len(want) {
		t.Fatalf("history = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if h.add(msg(300, "u2")) {
		t.Fatalf("duplicate reported as change")
	}
}

func TestHistoryUnreadOnlyClears(t *testing.T) {
	unread := msg(100, "u2")
	unread.Unread = true
	h := newHistory([]models.Message{unread})

	read := unread
	read.Unread = false
	if !h.add(read) || h.messages[0].Unread {
		t.Fatalf("read copy must clear the flag")
	}
	if h.add(unread) || h.messages[0].Unread {
		t.Fatalf("flag must never go back to unread")
	}
}

func TestMergeAnyInterleavingSameResult(t *testing.T) {
	distinct := []models.Message{
		msg(100, "u1"), msg(150, "u2"), msg(150, "u1"), msg(175, "u2"), msg(200, "u1"), msg(210, "u2"),
	}
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 200; round++ {
		// каждое сообщение приходит один или несколько раз, из кеша, догрузки или ленты
		var cache, batch, live []models.Message
		for _, m := range distinct {
			delivered := false
			for !delivered {
				if rng.Intn(2) == 0 {
					cache = append(cache, m)
					delivered = true
				}
				if rng.Intn(2) == 0 {
					batch = append(batch, m)
					delivered = true
				}
				if rng.Intn(2) == 0 {
					live = append(live, m)
					delivered = true
				}
			}
		}
		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })

		h := newHistory(cache)
		h.merge(batch)
		for _, m := range live {
			h.add(m)
		}

		if h.len() != len(distinct) {
			t.Fatalf("round %d: %d messages, want %d", round, h.len(), len(distinct))
		}
		for i := 1; i < h.len(); i++ {
			if !newer(h.messages[i-1], h.messages[i]) {
				t.Fatalf("round %d: order broken at %d: %v", round, i, keys(h.messages))
			}
		}
	}
}
