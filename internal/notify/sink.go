package notify

import (
	"log"

	"github.com/lavka/receiptproof/internal/domain"
)

// Sink receives verdict events for downstream delivery (chat notification,
// review queues, email). The verification core never sends notifications
// itself.
type Sink interface {
	Publish(verdict domain.VerificationVerdict)
}

// LogSink writes verdict events to the process log. It is the wired
// default; real deployments mount a chat or queue-backed sink instead.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Publish(v domain.VerificationVerdict) {
	log.Printf("[notify] submission=%s outcome=%s reason=%s order=%s",
		v.SubmissionID, v.Outcome, v.Reason, v.OrderID)
}
