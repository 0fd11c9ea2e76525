package realtime

import "strings"

// UserTopic is the per-user notification topic.
func UserTopic(prefix, userID string) string {
	return join(prefix, userID)
}

// RoomTopic is the per-room chat topic.
func RoomTopic(prefix, roomID string) string {
	return join(prefix, roomID)
}

func join(prefix, id string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix + id
	}
	return prefix + "/" + id
}
