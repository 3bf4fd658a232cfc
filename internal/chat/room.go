package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomKey names the fan-out scope of one study group's chat.
type RoomKey string

const roomKeyPrefix = "chat_"

func RoomKeyFor(groupID int64) RoomKey {
	return RoomKey(roomKeyPrefix + strconv.FormatInt(groupID, 10))
}

// GroupID recovers the group identifier from a key built by RoomKeyFor.
func (k RoomKey) GroupID() (int64, error) {
	raw, ok := strings.CutPrefix(string(k), roomKeyPrefix)
	if !ok {
		return 0, fmt.Errorf("room key %q: missing %q prefix", string(k), roomKeyPrefix)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("room key %q: %w", string(k), err)
	}
	return id, nil
}

// AnonymousName is shown for senders without an authenticated identity.
const AnonymousName = "Anonymous"

// Identity is the authenticated user bound to a connection at handshake.
type Identity struct {
	UserID   int64
	Username string
}

func (i *Identity) DisplayName() string {
	if i == nil || i.Username == "" {
		return AnonymousName
	}
	return i.Username
}

func (i *Identity) userRef() *int64 {
	if i == nil {
		return nil
	}
	id := i.UserID
	return &id
}

// ChatMessageEvent is the unit of fan-out for one accepted chat message.
type ChatMessageEvent struct {
	RoomKey RoomKey `json:"room"`
	User    string  `json:"user"`
	Message string  `json:"message"`
}
