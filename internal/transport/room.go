package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatRoom encodes a chat and an optional forum thread as a room id:
// "<chat>" or "<chat>/<thread>".
func FormatRoom(chatID int64, threadID int) string {
	if threadID == 0 {
		return strconv.FormatInt(chatID, 10)
	}
	return strconv.FormatInt(chatID, 10) + "/" + strconv.Itoa(threadID)
}

// ParseRoom is the inverse of FormatRoom.
func ParseRoom(room string) (chatID int64, threadID int, err error) {
	room = strings.TrimSpace(room)
	chat, thread, hasThread := strings.Cut(room, "/")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("invalid room %q", room)
	}
	if hasThread {
		threadID, err = strconv.Atoi(thread)
		if err != nil || threadID <= 0 {
			return 0, 0, fmt.Errorf("invalid thread in room %q", room)
		}
	}
	return chatID, threadID, nil
}
