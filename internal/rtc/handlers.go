package rtc

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const statsInterval = 60 * time.Second

type EventHandlers struct {
	network *Network
	peer    *peerConn
}

// handleIceCandidate processes new ICE candidates
func (h EventHandlers) handleIceCandidate(candidate *webrtc.ICECandidate) {
	if candidate != nil {
		var connType string
		switch candidate.Typ.String() {
		case "host":
			connType = "Direct" // local network or public ip
		case "srflx":
			connType = "STUN" // via stun server
		case "relay":
			connType = "TURN" // via turn server (relay)
		case "prflx":
			connType = "Peer" // addition peer reflexive candidate
		default:
			connType = "Undefined"
		}

		log.Debug().
			Str("peer", h.peer.id).
			Str("type", connType).
			Str("protocol", candidate.Protocol.String()).
			Str("address", candidate.Address).
			Uint16("port", candidate.Port).
			Uint32("priority", candidate.Priority).
			Msg("New ICE candidate gathered")
	}
}

func (h EventHandlers) handleIceConnectionStateChange(state webrtc.ICEConnectionState) {
	log.Info().Str("peer", h.peer.id).Str("state", state.String()).Msg("ICE state changed")
	switch state {
	case webrtc.ICEConnectionStateConnected:
		log.Info().Str("peer", h.peer.id).Msg("Ice connection is set!")
	case webrtc.ICEConnectionStateFailed:
		log.Error().Str("peer", h.peer.id).Msg("Ice connection failed")
	case webrtc.ICEConnectionStateDisconnected:
		log.Warn().Str("peer", h.peer.id).Msg("ICE disconnected...")
	}
}

func (h EventHandlers) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	log.Info().Str("peer", h.peer.id).Str("state", state.String()).Msg("Peer connection state changed")
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		h.network.dropPeer(h.peer, state.String())
	}
}

// handleDataChannel binds a channel opened by the remote side.
func (h EventHandlers) handleDataChannel(dc *webrtc.DataChannel) {
	log.Info().Str("peer", h.peer.id).Str("label", dc.Label()).Msg("Received data channel")
	h.network.bindChannel(h.peer, dc)
}

// setupEventHandlers sets up the necessary event handlers for the peer connection
func (h EventHandlers) setupEventHandlers(ctx context.Context, pc *webrtc.PeerConnection) {
	pc.OnICECandidate(h.handleIceCandidate)
	pc.OnICEConnectionStateChange(h.handleIceConnectionStateChange)
	pc.OnConnectionStateChange(h.handleConnectionStateChange)
	pc.OnDataChannel(h.handleDataChannel)
	// start logging stats
	go logStat(ctx, h.peer.id, pc)
}

// logStat periodically logs data channel statistics
func logStat(ctx context.Context, peerID string, pc *webrtc.PeerConnection) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, stat := range pc.GetStats() {
			if dc, ok := stat.(webrtc.DataChannelStats); ok {
				log.Debug().
					Str("peer", peerID).
					Str("label", dc.Label).
					Uint32("messages_sent", dc.MessagesSent).
					Uint64("bytes_sent", dc.BytesSent).
					Uint32("messages_received", dc.MessagesReceived).
					Uint64("bytes_received", dc.BytesReceived).
					Msg("Data channel stats")
			}
		}
	}
}
