// Package signaling establishes the WebRTC datagram transport: a throwaway
// WebSocket link carries the SDP offer/answer and trickled ICE candidates,
// and closes as soon as the DataChannel is open. Callers get back a ready
// point-to-point DatagramChannel.
package signaling

// msgType identifies one signaling message.
type msgType string

const (
	msgOffer     msgType = "offer"
	msgAnswer    msgType = "answer"
	msgCandidate msgType = "candidate"
)

// message is the JSON envelope exchanged over the signaling link.
type message struct {
	Type      msgType `json:"type"`
	SDP       string  `json:"sdp,omitempty"`
	Candidate string  `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
