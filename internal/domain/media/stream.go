package media

// StreamStatus is the connection status of a streaming byte source.
type StreamStatus int

const (
	StreamConnected StreamStatus = iota
	StreamDisconnected
	StreamNetworkError
)

// String returns the string representation of the status.
func (s StreamStatus) String() string {
	switch s {
	case StreamConnected:
		return "connected"
	case StreamDisconnected:
		return "disconnected"
	case StreamNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// StreamHandler receives status changes and data from a streaming source.
// Both callbacks may be invoked from the source's own goroutine.
type StreamHandler interface {
	OnStreamStatus(status StreamStatus)
	OnStreamData(data []byte)
}

// StreamSource is a network client delivering audio bytes for push players.
type StreamSource interface {
	Connect(locator string) error
	Disconnect() error
}
