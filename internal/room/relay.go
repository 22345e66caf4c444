package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dmaretti/crewdeck/internal/queue"
)

// ReservedAgentPrefix marks a room message authored by the agent rather
// than a human participant. Inbound text carrying the prefix is stripped
// and stored with the agent kind.
const ReservedAgentPrefix = "::agent::"

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before returning the SDP answer.
const iceGatherTimeout = 15 * time.Second

const dataChannelLabel = "room"

var ErrRelayClosed = errors.New("room relay closed")

// Relay terminates browser WebRTC connections for the shared room. The
// browser posts an SDP offer over HTTP, the relay answers with vanilla
// ICE, and room chat then flows both ways over a data channel. The room
// log in the store stays the single source of truth: inbound messages
// are appended there and fan back out through store events.
type Relay struct {
	store   *queue.Store
	stunURL string

	mu    sync.Mutex
	peers map[string]*peer

	closed    chan struct{}
	closeOnce sync.Once
}

type peer struct {
	id         string
	connection *webrtc.PeerConnection
	cancelSub  func()
}

func NewRelay(store *queue.Store, stunURL string) *Relay {
	return &Relay{
		store:   store,
		stunURL: stunURL,
		peers:   make(map[string]*peer),
		closed:  make(chan struct{}),
	}
}

// Answer accepts a browser SDP offer and returns the complete SDP answer.
// All ICE candidates are gathered before the answer is returned, so
// signaling needs exactly one round-trip.
func (r *Relay) Answer(ctx context.Context, offerSDP string) (string, error) {
	select {
	case <-r.closed:
		return "", ErrRelayClosed
	default:
	}
	if strings.TrimSpace(offerSDP) == "" {
		return "", errors.New("empty SDP offer")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{r.stunURL}}},
	})
	if err != nil {
		return "", fmt.Errorf("creating PeerConnection: %w", err)
	}

	p := &peer{id: uuid.NewString(), connection: pc}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		dc.OnOpen(func() {
			r.attachChannel(p, dc)
		})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		slog.Debug("room ICE state change", "peer", p.id, "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			r.dropPeer(p)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		pc.Close()
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return "", ctx.Err()
	case <-r.closed:
		pc.Close()
		return "", ErrRelayClosed
	}

	r.mu.Lock()
	r.peers[p.id] = p
	r.mu.Unlock()

	slog.Info("room peer answered", "peer", p.id)
	return pc.LocalDescription().SDP, nil
}

// ActivePeers reports how many browser connections are currently held.
func (r *Relay) ActivePeers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.closed) })

	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[string]*peer)
	r.mu.Unlock()

	for _, p := range peers {
		if p.cancelSub != nil {
			p.cancelSub()
		}
		p.connection.Close()
	}
}

// attachChannel wires a freshly opened data channel: replay the room log,
// pump new room events outbound, and append inbound chat to the store.
func (r *Relay) attachChannel(p *peer, dc *webrtc.DataChannel) {
	_, backlog, events, cancel := r.store.SubscribeWithSnapshot()

	r.mu.Lock()
	p.cancelSub = cancel
	r.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		entry, err := ParseInbound(msg.Data)
		if err != nil {
			slog.Warn("dropping malformed room message", "peer", p.id, "error", err)
			return
		}
		r.store.AppendRoomMessage(entry)
	})
	dc.OnClose(func() {
		r.dropPeer(p)
	})

	go r.pump(p, backlog, events, func(entry queue.RoomMessage) bool {
		return sendRoomMessage(dc, entry)
	})
}

// pump replays the backlog and then forwards live room events until the
// subscription ends or a send fails. Either way the peer is dropped so
// the store subscription does not linger behind a dead channel.
func (r *Relay) pump(p *peer, backlog []queue.RoomMessage, events <-chan queue.Event, send func(queue.RoomMessage) bool) {
	defer r.dropPeer(p)

	for _, entry := range backlog {
		if !send(entry) {
			return
		}
	}
	for evt := range events {
		if evt.Type != queue.EventRoomChat || evt.Room == nil {
			continue
		}
		if !send(*evt.Room) {
			return
		}
	}
}

func (r *Relay) dropPeer(p *peer) {
	r.mu.Lock()
	current, ok := r.peers[p.id]
	if ok && current == p {
		delete(r.peers, p.id)
	}
	r.mu.Unlock()
	if !ok || current != p {
		return
	}

	if p.cancelSub != nil {
		p.cancelSub()
	}
	p.connection.Close()
	slog.Info("room peer dropped", "peer", p.id)
}

func sendRoomMessage(dc *webrtc.DataChannel, entry queue.RoomMessage) bool {
	raw, err := json.Marshal(wireMessage{
		Type:   "room:chat",
		Sender: entry.Sender,
		Text:   entry.Text,
		Kind:   entry.Kind,
		At:     entry.TS,
	})
	if err != nil {
		return false
	}
	if err := dc.SendText(string(raw)); err != nil {
		return false
	}
	return true
}

type wireMessage struct {
	Type   string    `json:"type"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Kind   string    `json:"kind,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// ParseInbound validates a raw data channel payload and classifies it.
// Text carrying the reserved agent prefix is stored with the agent kind,
// prefix stripped; everything else is ordinary chat.
func ParseInbound(raw []byte) (queue.RoomMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return queue.RoomMessage{}, fmt.Errorf("decode room message: %w", err)
	}
	if msg.Type != "room:chat" {
		return queue.RoomMessage{}, fmt.Errorf("unsupported room message type %q", msg.Type)
	}
	sender := strings.TrimSpace(msg.Sender)
	if sender == "" {
		return queue.RoomMessage{}, errors.New("room message requires a sender")
	}

	text := msg.Text
	kind := queue.RoomKindChat
	if strings.HasPrefix(text, ReservedAgentPrefix) {
		kind = queue.RoomKindAgent
		text = strings.TrimPrefix(text, ReservedAgentPrefix)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return queue.RoomMessage{}, errors.New("room message requires text")
	}

	return queue.RoomMessage{Sender: sender, Text: text, Kind: kind}, nil
}
