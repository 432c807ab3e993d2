package usecase

import (
	"strings"
	"time"
	"unicode/utf8"

	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

// messageProcessor validates required fields and normalises content. It
// performs no I/O. Content wording never causes a failure.
type messageProcessor struct {
	now func() time.Time
}

// NewMessageProcessor creates a MessageProcessor.
func NewMessageProcessor() MessageProcessor {
	return &messageProcessor{now: time.Now}
}

// Process applies the rules in order and stops at the first failure. A nil
// message is returned as nil and means "skip".
func (p *messageProcessor) Process(msg *messageDomain.Message) *messageDomain.Message {
	if msg == nil {
		return nil
	}

	if isBlank(msg.MessageID) {
		msg.MarkFailed(ingestDomain.ReasonMissingMessageID)
		return msg
	}
	if isBlank(msg.QueueName) {
		msg.MarkFailed(ingestDomain.ReasonMissingQueueName)
		return msg
	}

	content := trim(msg.Content)
	if content == "" {
		msg.MarkFailed(ingestDomain.ReasonEmptyContent)
		return msg
	}

	msg.Content = truncate(stripControl(content))
	msg.MarkProcessed(p.now().UTC())
	return msg
}

// trim removes leading and trailing code points at or below U+0020.
func trim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })
}

func isBlank(s string) bool {
	return trim(s) == ""
}

// stripControl drops ASCII control characters except CR, LF and TAB.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// truncate keeps the first MaxContentLength characters and appends the
// marker. Content that was already truncated is returned unchanged.
func truncate(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= ingestDomain.MaxContentLength {
		return s
	}
	if n == ingestDomain.MaxContentLength+utf8.RuneCountInString(ingestDomain.TruncationMarker) &&
		strings.HasSuffix(s, ingestDomain.TruncationMarker) {
		return s
	}
	runes := []rune(s)
	return string(runes[:ingestDomain.MaxContentLength]) + ingestDomain.TruncationMarker
}
