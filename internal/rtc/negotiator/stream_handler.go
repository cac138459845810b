package negotiator

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"
)

// maxMessageSize bounds a single signaling frame; SDP with gathered
// candidates stays well below it.
const maxMessageSize = 1 << 20

type HandshakeCallBack func()
type OfferCallBack func(msg Message)
type AnswerCallBack func(msg Message)
type ErrorCallBack func(msg Message)

type StreamHandler struct {
	incomingChan chan Message      // messages with no dedicated callback
	outgoingChan chan Message      // messages queued for the stream
	onHandshake  HandshakeCallBack // function called on handshake complete
	OnOffer      OfferCallBack     // function called on offer received
	OnAnswer     AnswerCallBack    // function called on answer received
	OnError      ErrorCallBack     // function called when the peer reports an error
	sessionID    string            // webrtc session id

	closeOnce sync.Once
	done      chan struct{}
	stream    io.Closer
}

func NewStreamHandler(sessionID string, onHandShake HandshakeCallBack) *StreamHandler {
	return &StreamHandler{
		incomingChan: make(chan Message, 10),
		outgoingChan: make(chan Message, 10),
		sessionID:    sessionID,
		onHandshake:  onHandShake,
		done:         make(chan struct{}),
	}
}

// HandleStream handles a new p2p stream
func (sh *StreamHandler) HandleStream(stream network.Stream) (peer.ID, peer.ID) {
	peerID := stream.Conn().RemotePeer()
	hostID := stream.Conn().LocalPeer()
	log.Info().Str("peer", peerID.String()).Msg("New stream opened")

	sh.Serve(stream)
	return hostID, peerID
}

// Serve starts reading and writing rw and sends the handshake.
func (sh *StreamHandler) Serve(rw io.ReadWriteCloser) {
	sh.stream = rw
	buffered := bufio.NewReadWriter(bufio.NewReader(rw), bufio.NewWriter(rw))

	go sh.handleRead(buffered)
	go sh.handleWrite(buffered)

	sh.SendMessage(Message{Type: Handshake, SessionID: sh.sessionID})
	log.Debug().Msg("Handshake sent")
}

// handleRead reads messages from the stream p2plib
func (sh *StreamHandler) handleRead(rw *bufio.ReadWriter) {
	defer log.Debug().Msg("HandleRead exited")

	for {
		var length uint32
		if err := binary.Read(rw, binary.BigEndian, &length); err != nil {
			if !sh.closed() && err != io.EOF {
				log.Error().Err(err).Msg("Error reading message length")
			}
			return
		}
		if length > maxMessageSize {
			log.Error().Uint32("length", length).Msg("Signaling message too large")
			sh.Close()
			return
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(rw, payload); err != nil {
			log.Error().Err(err).Msg("Error reading payload")
			return
		}

		log.Debug().Int("bytes", len(payload)).Msg("Received message")

		var message Message
		if err := json.Unmarshal(bytes.TrimSpace(payload), &message); err != nil {
			log.Error().Err(err).Msg("Error unmarshaling message")
			continue
		}

		sh.routeMessage(message)
	}
}

// handleWrite writes messages to the stream p2plib
func (sh *StreamHandler) handleWrite(rw *bufio.ReadWriter) {
	defer log.Debug().Msg("HandleWrite exited")

	for {
		var msg Message
		select {
		case <-sh.done:
			return
		case msg = <-sh.outgoingChan:
		}
		if err := writeMessage(rw, msg); err != nil {
			if !sh.closed() {
				log.Error().Err(err).Msg("Error writing message")
			}
			return
		}
	}
}

func writeMessage(rw *bufio.ReadWriter, msg Message) error {
	data := msg.ToBytes()
	if data == nil {
		return nil
	}
	if err := binary.Write(rw, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("writing length: %w", err)
	}
	if _, err := rw.Write(data); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	return rw.Flush()
}

// routeMessage routes incoming messages to appropriate handlers
func (sh *StreamHandler) routeMessage(msg Message) {
	switch msg.Type {
	case Handshake:
		log.Info().Msg("Received handshake")
		sh.SendMessage(Message{Type: Ack, SessionID: sh.sessionID})

	case Ack:
		log.Info().Msg("Received ACK")
		if sh.onHandshake != nil {
			sh.onHandshake()
		}

	case Offer:
		log.Info().Msg("Received offer")
		if sh.OnOffer != nil {
			sh.OnOffer(msg)
		}

	case Answer:
		log.Info().Msg("Received answer")
		if sh.OnAnswer != nil {
			sh.OnAnswer(msg)
		}

	case ErrorMsg:
		log.Warn().Str("error", msg.Error).Str("session", msg.SessionID).Msg("Peer reported an error")
		if sh.OnError != nil {
			sh.OnError(msg)
		}

	default:
		select {
		case sh.incomingChan <- msg:
		default:
			log.Warn().Str("type", string(msg.Type)).Msg("Incoming channel full, dropping message")
		}
	}
}

// SendMessage queues msg. It is dropped once the handler is closed.
func (sh *StreamHandler) SendMessage(msg Message) {
	select {
	case sh.outgoingChan <- msg:
	case <-sh.done:
	}
}

// Incoming delivers messages that are not part of the offer/answer exchange.
func (sh *StreamHandler) Incoming() <-chan Message {
	return sh.incomingChan
}

func (sh *StreamHandler) SessionID() string { return sh.sessionID }

func (sh *StreamHandler) closed() bool {
	select {
	case <-sh.done:
		return true
	default:
		return false
	}
}

// Close stops both goroutines and closes the stream.
func (sh *StreamHandler) Close() error {
	var err error
	sh.closeOnce.Do(func() {
		close(sh.done)
		if sh.stream != nil {
			err = sh.stream.Close()
		}
	})
	return err
}
