package chat

import (
	"sort"

	"github.com/rajivgeraev/flippy-market/internal/models"
)

// newer порядок истории: новые первыми, при равном времени по отправителю
func newer(a, b models.Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Sender < b.Sender
}

// history упорядоченная история переписки без повторов по (timestamp, sender)
type history struct {
	messages []models.Message
	index    map[models.MessageKey]int
}

func newHistory(msgs []models.Message) *history {
	h := &history{index: make(map[models.MessageKey]int, len(msgs))}
	for _, m := range msgs {
		h.add(m)
	}
	return h
}

// add вставляет сообщение на свое место. Повтор не добавляется, но может
// снять флаг непрочитанного: флаг меняется только с true на false.
// Возвращает true, если история изменилась.
func (h *history) add(m models.Message) bool {
	if i, ok := h.index[m.Key()]; ok {
		if h.messages[i].Unread && !m.Unread {
			h.messages[i].Unread = false
			return true
		}
		return false
	}

	pos := sort.Search(len(h.messages), func(i int) bool {
		return newer(m, h.messages[i])
	})
	h.messages = append(h.messages, models.Message{})
	copy(h.messages[pos+1:], h.messages[pos:])
	h.messages[pos] = m
	h.reindex(pos)
	return true
}

// merge добавляет пачку сообщений; возвращает true, если что-то изменилось
func (h *history) merge(batch []models.Message) bool {
	changed := false
	for _, m := range batch {
		if h.add(m) {
			changed = true
		}
	}
	return changed
}

// markRead снимает флаг непрочитанного с сообщения по ключу
func (h *history) markRead(key models.MessageKey) bool {
	i, ok := h.index[key]
	if !ok || !h.messages[i].Unread {
		return false
	}
	h.messages[i].Unread = false
	return true
}

// newest самое новое сообщение
func (h *history) newest() (models.Message, bool) {
	if len(h.messages) == 0 {
		return models.Message{}, false
	}
	return h.messages[0], true
}

// newestTimestamp граница догрузки: время самого нового сообщения или 0
func (h *history) newestTimestamp() int64 {
	if m, ok := h.newest(); ok {
		return m.Timestamp
	}
	return 0
}

func (h *history) len() int { return len(h.messages) }

// snapshot копия истории
func (h *history) snapshot() []models.Message {
	return append([]models.Message{}, h.messages...)
}

func (h *history) reindex(from int) {
	for i := from; i < len(h.messages); i++ {
		h.index[h.messages[i].Key()] = i
	}
}
