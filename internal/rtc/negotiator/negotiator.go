package negotiator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout  = errors.New("negotiation timed out")
	ErrNoSDP    = errors.New("message carries no session description")
	ErrRejected = errors.New("peer rejected the session")
)

const (
	DefaultExchangeTimeout  = 30 * time.Second
	DefaultGatheringTimeout = 45 * time.Second
)

// Negotiator runs the offer/answer exchange for one peer connection over a
// signaling stream.
type Negotiator struct {
	pc         *webrtc.PeerConnection
	offerChan  chan Message
	answerChan chan Message
	errorChan  chan Message
	stream     *StreamHandler

	ExchangeTimeout  time.Duration
	GatheringTimeout time.Duration
}

// NewNegotiator creates a new Negotiator instance
func NewNegotiator(pc *webrtc.PeerConnection, stream *StreamHandler) *Negotiator {
	return &Negotiator{
		pc:               pc,
		offerChan:        make(chan Message, 1),
		answerChan:       make(chan Message, 1),
		errorChan:        make(chan Message, 1),
		stream:           stream,
		ExchangeTimeout:  DefaultExchangeTimeout,
		GatheringTimeout: DefaultGatheringTimeout,
	}
}

// SetupCallbacks sets up the callbacks for handling offers and answers. It
// must run before the stream is served.
func (n *Negotiator) SetupCallbacks() {
	n.stream.OnOffer = func(msg Message) {
		select {
		case n.offerChan <- msg:
		default:
			log.Warn().Msg("Offer channel full")
		}
	}

	n.stream.OnAnswer = func(msg Message) {
		select {
		case n.answerChan <- msg:
		default:
			log.Warn().Msg("Answer channel full")
		}
	}

	n.stream.OnError = func(msg Message) {
		select {
		case n.errorChan <- msg:
		default:
		}
	}
}

func (n *Negotiator) CreateOffer(ctx context.Context) error {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(n.pc)
	if err = n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	n.waitForICEGathering(ctx, gathered)

	n.stream.SendMessage(Message{
		Type:      Offer,
		SDP:       n.pc.LocalDescription(),
		SessionID: n.stream.sessionID,
	})
	log.Info().Msg("Offer sent, waiting for answer...")

	select {
	case answer := <-n.answerChan:
		return n.processAnswer(answer)
	case msg := <-n.errorChan:
		return fmt.Errorf("%w: %s", ErrRejected, msg.Error)
	case <-time.After(n.ExchangeTimeout):
		return fmt.Errorf("%w: waiting for answer", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Negotiator) AcceptOffer(ctx context.Context) error {
	log.Info().Msg("Waiting for offer...")

	select {
	case offer := <-n.offerChan:
		if err := n.processOffer(ctx, offer); err != nil {
			n.stream.SendMessage(Message{Type: ErrorMsg, SessionID: n.stream.sessionID, Error: err.Error()})
			return err
		}
		return nil
	case <-time.After(n.ExchangeTimeout):
		return fmt.Errorf("%w: waiting for offer", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Negotiator) processOffer(ctx context.Context, offer Message) error {
	if offer.SDP == nil {
		return ErrNoSDP
	}
	if err := n.pc.SetRemoteDescription(*offer.SDP); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(n.pc)
	if err = n.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	log.Info().Msg("Gathering ICE candidates...")
	n.waitForICEGathering(ctx, gathered)

	n.stream.SendMessage(Message{
		Type:      Answer,
		SDP:       n.pc.LocalDescription(),
		SessionID: n.stream.sessionID,
	})
	log.Info().Msg("Answer sent")
	return nil
}

func (n *Negotiator) processAnswer(answer Message) error {
	if answer.SDP == nil {
		return ErrNoSDP
	}
	if err := n.pc.SetRemoteDescription(*answer.SDP); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	log.Info().Msg("Answer processed successfully")
	return nil
}

// waitForICEGathering waits for gathering to finish; on timeout the
// candidates gathered so far are sent.
func (n *Negotiator) waitForICEGathering(ctx context.Context, gathered <-chan struct{}) {
	select {
	case <-gathered:
		log.Info().Msg("ICE candidates gathered")
	case <-time.After(n.GatheringTimeout):
		log.Warn().Msg("ICE gathering timeout")
	case <-ctx.Done():
	}
}
