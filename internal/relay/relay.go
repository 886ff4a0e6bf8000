// Package relay mirrors hub broadcasts to external brokers so other processes
// can observe trip activity. Mirrors are outbound only.
package relay

import "strings"

// ConnectionMetrics tracks broker connectivity.
type ConnectionMetrics interface {
	MirrorConnected(sink string, up bool)
}

// tripIDFromRoom strips the room kind ("trip:" or "chat:") and returns the
// trip id. Rooms without a kind are returned unchanged.
func tripIDFromRoom(room string) string {
	if _, id, ok := strings.Cut(room, ":"); ok {
		return id
	}
	return room
}
