package models

import (
	"bytes"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/internal/enum"
)

const previewLength = 512

// Message is the local projection of a remote message written through BackendFolder.
// Raw holds the RFC 822 bytes that were downloaded, headers only for PARTIAL.
type Message struct {
	ServerID        string      `json:"serverId"`
	MessageID       string      `json:"messageId"`
	InReplyTo       string      `json:"inReplyTo,omitempty"`
	Subject         string      `json:"subject"`
	From            string      `json:"from"`
	To              []string    `json:"to"`
	Cc              []string    `json:"cc"`
	SentAt          *time.Time  `json:"sentAt,omitempty"`
	InternalDate    *time.Time  `json:"internalDate,omitempty"`
	Flags           []enum.Flag `json:"flags"`
	Size            int64       `json:"size"`
	Raw             []byte      `json:"-"`
	TextPreview     string      `json:"textPreview,omitempty"`
	HTMLBody        string      `json:"-"`
	AttachmentCount int         `json:"attachmentCount"`
	Parts           []Part      `json:"parts,omitempty"`
}

func (m *Message) HasFlag(flag enum.Flag) bool {
	return enum.HasFlag(m.Flags, flag)
}

// ParseMessage builds a Message from raw RFC 822 bytes. Header-only input is accepted.
func ParseMessage(serverID string, raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	msg := &Message{
		ServerID:  serverID,
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		InReplyTo: strings.TrimSpace(env.GetHeader("In-Reply-To")),
		Subject:   env.GetHeader("Subject"),
		Size:      int64(len(raw)),
		Raw:       raw,
		HTMLBody:  env.HTML,
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].String()
	} else {
		msg.From = env.GetHeader("From")
	}
	msg.To = addressStrings(env, "To")
	msg.Cc = addressStrings(env, "Cc")

	if date := env.GetHeader("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			msg.SentAt = &t
		}
	}

	msg.TextPreview = preview(env.Text)

	position := 1
	if env.Text != "" {
		msg.Parts = append(msg.Parts, Part{ID: strconv.Itoa(position), ContentType: "text/plain", Size: int64(len(env.Text))})
		position++
	}
	if env.HTML != "" {
		msg.Parts = append(msg.Parts, Part{ID: strconv.Itoa(position), ContentType: "text/html", Size: int64(len(env.HTML))})
		position++
	}
	for _, attachment := range env.Attachments {
		msg.Parts = append(msg.Parts, Part{
			ID:          strconv.Itoa(position),
			ContentType: attachment.ContentType,
			Size:        int64(len(attachment.Content)),
			Filename:    attachment.FileName,
			Disposition: "attachment",
			Charset:     attachment.Charset,
		})
		position++
	}
	for _, inline := range env.Inlines {
		msg.Parts = append(msg.Parts, Part{
			ID:          strconv.Itoa(position),
			ContentType: inline.ContentType,
			Size:        int64(len(inline.Content)),
			Filename:    inline.FileName,
			Disposition: "inline",
			ContentID:   inline.ContentID,
			Charset:     inline.Charset,
		})
		position++
	}
	msg.AttachmentCount = len(env.Attachments) + len(env.Inlines)

	return msg, nil
}

func addressStrings(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(list))
	for _, a := range list {
		result = append(result, a.Address)
	}
	return result
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength])
}
