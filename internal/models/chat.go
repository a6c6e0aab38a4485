package models

// Chat представляет переписку по объявлению
type Chat struct {
	ID            string          `json:"id" bson:"_id"`
	ListingID     string          `json:"listing_id,omitempty" bson:"listing_id,omitempty"`
	Title         string          `json:"title" bson:"title"`
	CreatedBy     string          `json:"created_by" bson:"created_by"`
	CreatorName   string          `json:"creator_name,omitempty" bson:"creator_name,omitempty"`
	FeaturedImage string          `json:"featured_image,omitempty" bson:"featured_image,omitempty"`
	Members       map[string]bool `json:"members" bson:"members"`
	Timestamp     int64           `json:"timestamp" bson:"timestamp"` // мс, время последнего сообщения
	Unread        bool            `json:"unread" bson:"unread"`
}

// HasMember проверяет, состоит ли пользователь в переписке
func (c Chat) HasMember(userID string) bool {
	return userID != "" && c.Members[userID]
}

// Message представляет сообщение в чате.
// Ключ дедупликации (Timestamp, Sender): у сообщений нет серверного ID,
// два сообщения одного отправителя в одну миллисекунду неразличимы.
type Message struct {
	Text      string `json:"text,omitempty" bson:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty" bson:"image_url,omitempty"`
	Sender    string `json:"sender" bson:"sender"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
	Unread    bool   `json:"unread" bson:"unread"`
}

// MessageKey ключ дедупликации сообщения
type MessageKey struct {
	Timestamp int64
	Sender    string
}

// Key возвращает ключ дедупликации
func (m Message) Key() MessageKey {
	return MessageKey{Timestamp: m.Timestamp, Sender: m.Sender}
}

// IsImage сообщение с картинкой вместо текста
func (m Message) IsImage() bool {
	return m.ImageURL != ""
}
