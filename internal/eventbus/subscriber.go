package eventbus

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// RunRequest asks a running daemon for an immediate discovery and backup.
type RunRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

type RunRequester interface {
	RequestRun(reason string) bool
}

type Subscriber struct {
	conn      *nats.Conn
	sub       *nats.Subscription
	requester RunRequester
}

func NewSubscriber(natsURL string, requester RunRequester) (*Subscriber, error) {
	nc, err := connect(natsURL, "dumpitall-subscriber")
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", natsURL).Msg("Subscriber connected to NATS")

	return &Subscriber{conn: nc, requester: requester}, nil
}

func (s *Subscriber) Start() error {
	var err error
	s.sub, err = s.conn.Subscribe(SubjectRunRequested, s.handleRunRequest)
	if err != nil {
		return err
	}
	log.Info().Str("subject", SubjectRunRequested).Msg("Subscribed to run requests")
	return nil
}

// handleRunRequest accepts an empty body as a request with no reason.
func (s *Subscriber) handleRunRequest(msg *nats.Msg) {
	var req RunRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Msg("Failed to decode run request")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "event bus request"
	}

	accepted := s.requester.RequestRun(req.Reason)
	log.Info().
		Str("reason", req.Reason).
		Str("requested_by", req.RequestedBy).
		Bool("accepted", accepted).
		Msg("Received run request")

	if msg.Reply != "" && s.conn != nil {
		reply := []byte(`{"accepted":false}`)
		if accepted {
			reply = []byte(`{"accepted":true}`)
		}
		if err := msg.Respond(reply); err != nil {
			log.Debug().Err(err).Msg("Failed to reply to run request")
		}
	}
}

func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		log.Info().Msg("Subscriber disconnected from NATS")
	}
}
