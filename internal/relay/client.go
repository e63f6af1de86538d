package relay

import "github.com/vovakirdan/sanctuary/internal/proto"

// CloseReason tells the transport why the hub closed a client's event channel.
type CloseReason int

const (
	// CloseLeft follows a leave command or a disconnect.
	CloseLeft CloseReason = iota
	// CloseKicked follows a kick. The participant may not come back.
	CloseKicked
	// CloseEnded follows the end of the sanctuary.
	CloseEnded
	// CloseReplaced means the same participant connected again elsewhere.
	CloseReplaced
	// CloseShutdown means the relay is stopping.
	CloseShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseKicked:
		return "kicked"
	case CloseEnded:
		return "session ended"
	case CloseReplaced:
		return "replaced by a newer connection"
	case CloseShutdown:
		return "relay shutting down"
	default:
		return "left"
	}
}

const clientBuffer = 64

// Client is one connected participant as seen by the hub.
// Only the hub goroutine sends on or closes Events.
type Client struct {
	ID          string
	SanctuaryID string
	IsHost      bool
	ResumeToken string
	Events      chan proto.Outbound

	reason CloseReason
	closed bool
}

func newClient(id, sanctuaryID string, isHost bool, resumeToken string) *Client {
	return &Client{
		ID:          id,
		SanctuaryID: sanctuaryID,
		IsHost:      isHost,
		ResumeToken: resumeToken,
		Events:      make(chan proto.Outbound, clientBuffer),
	}
}

// CloseReason is valid once Events has been closed.
func (c *Client) CloseReason() CloseReason {
	return c.reason
}

// send queues a frame, dropping it if the client is slow. Returns false on drop.
func (c *Client) send(out proto.Outbound) bool {
	if c.closed {
		return false
	}
	select {
	case c.Events <- out:
		return true
	default:
		return false
	}
}

func (c *Client) close(reason CloseReason) {
	if c.closed {
		return
	}
	c.reason = reason
	c.closed = true
	close(c.Events)
}
