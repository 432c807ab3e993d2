package usecase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingestDomain "github.com/allisson/mqingest/internal/ingest/domain"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

func newReceived(content string) *messageDomain.Message {
	return &messageDomain.Message{
		MessageID: "ID:414d5120",
		QueueName: "ORDERS.IN",
		Content:   content,
		Status:    messageDomain.StatusReceived,
	}
}

func TestMessageProcessor_Process(t *testing.T) {
	p := NewMessageProcessor()

	tests := []struct {
		name        string
		msg         *messageDomain.Message
		wantStatus  messageDomain.Status
		wantError   string
		wantContent string
	}{
		{
			name:        "trims surrounding whitespace",
			msg:         newReceived("  Content with spaces  "),
			wantStatus:  messageDomain.StatusProcessed,
			wantContent: "Content with spaces",
		},
		{
			name:       "whitespace only content fails",
			msg:        newReceived("   "),
			wantStatus: messageDomain.StatusFailed,
			wantError:  ingestDomain.ReasonEmptyContent,
		},
		{
			name:       "empty content fails",
			msg:        newReceived(""),
			wantStatus: messageDomain.StatusFailed,
			wantError:  ingestDomain.ReasonEmptyContent,
		},
		{
			name: "blank message id fails first",
			msg: &messageDomain.Message{
				MessageID: " \t",
				QueueName: "",
				Content:   "",
			},
			wantStatus: messageDomain.StatusFailed,
			wantError:  ingestDomain.ReasonMissingMessageID,
		},
		{
			name: "blank queue name fails",
			msg: &messageDomain.Message{
				MessageID: "m-1",
				QueueName: "  ",
				Content:   "data",
			},
			wantStatus: messageDomain.StatusFailed,
			wantError:  ingestDomain.ReasonMissingQueueName,
		},
		{
			name:        "strips control characters but keeps CR LF TAB",
			msg:         newReceived("a\x00b\x07c\r\n\td\x1be\x7f"),
			wantStatus:  messageDomain.StatusProcessed,
			wantContent: "abc\r\n\tde",
		},
		{
			name:        "error wording is not a failure",
			msg:         newReceived("ERROR: exception in upstream system"),
			wantStatus:  messageDomain.StatusProcessed,
			wantContent: "ERROR: exception in upstream system",
		},
		{
			name:        "trims code points at or below space",
			msg:         newReceived("\x01\x02 payload \x1f"),
			wantStatus:  messageDomain.StatusProcessed,
			wantContent: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Process(tt.msg)
			require.Same(t, tt.msg, out)
			assert.Equal(t, tt.wantStatus, out.Status)

			if tt.wantError != "" {
				require.NotNil(t, out.ErrorMessage)
				assert.Equal(t, tt.wantError, *out.ErrorMessage)
				assert.Nil(t, out.ProcessedAt)
				return
			}
			assert.Nil(t, out.ErrorMessage)
			assert.NotNil(t, out.ProcessedAt)
			assert.Equal(t, tt.wantContent, out.Content)
		})
	}
}

func TestMessageProcessor_NilInput(t *testing.T) {
	assert.Nil(t, NewMessageProcessor().Process(nil))
}

func TestMessageProcessor_Truncation(t *testing.T) {
	p := NewMessageProcessor()

	t.Run("exactly max length is unchanged", func(t *testing.T) {
		content := strings.Repeat("a", ingestDomain.MaxContentLength)
		out := p.Process(newReceived(content))
		assert.Equal(t, content, out.Content)
	})

	t.Run("one over max length is truncated", func(t *testing.T) {
		content := strings.Repeat("a", ingestDomain.MaxContentLength+1)
		out := p.Process(newReceived(content))
		assert.Equal(t, 10015, utf8.RuneCountInString(out.Content))
		assert.True(t, strings.HasSuffix(out.Content, "... [TRUNCATED]"))
		assert.Equal(t, messageDomain.StatusProcessed, out.Status)
	})

	t.Run("counts characters not bytes", func(t *testing.T) {
		content := strings.Repeat("é", ingestDomain.MaxContentLength)
		out := p.Process(newReceived(content))
		assert.Equal(t, content, out.Content)

		out = p.Process(newReceived(content + "é"))
		assert.Equal(t, ingestDomain.MaxContentLength+15, utf8.RuneCountInString(out.Content))
	})
}

func TestMessageProcessor_Idempotent(t *testing.T) {
	p := NewMessageProcessor()

	msg := p.Process(newReceived("  hello\x00 world  "))
	require.Equal(t, messageDomain.StatusProcessed, msg.Status)
	first := msg.Content

	msg = p.Process(msg)
	assert.Equal(t, messageDomain.StatusProcessed, msg.Status)
	assert.Equal(t, first, msg.Content)
	assert.Equal(t, "hello world", msg.Content)

	long := p.Process(newReceived(strings.Repeat("x", 20000)))
	truncated := long.Content
	long = p.Process(long)
	assert.Equal(t, truncated, long.Content)
}
