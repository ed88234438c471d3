package smtp

import (
	"bufio"
	"bytes"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
)

type envelope struct {
	from       string
	domain     string
	recipients []string
}

// newEnvelope validates sender and recipients. Validation failures are permanent.
func newEnvelope(message *models.Message) (*envelope, error) {
	if message == nil {
		return nil, mailerrors.NewPermanentMessagingError("message cannot be nil", nil)
	}

	from, err := mailbox(message.From)
	if err != nil {
		return nil, mailerrors.NewPermanentMessagingError("from address is not valid", err)
	}
	validation := mailvalidate.ValidateEmailSyntax(from)
	if !validation.IsValid {
		return nil, mailerrors.NewPermanentMessagingError("from address is not valid: "+from, nil)
	}

	env := &envelope{from: from, domain: validation.Domain}
	seen := make(map[string]bool)
	for _, raw := range append(append([]string{}, message.To...), message.Cc...) {
		address, err := mailbox(raw)
		if err != nil {
			return nil, mailerrors.NewPermanentMessagingError("recipient is not valid: "+raw, err)
		}
		if !mailvalidate.ValidateEmailSyntax(address).IsValid {
			return nil, mailerrors.NewPermanentMessagingError("recipient is not valid: "+address, nil)
		}
		key := strings.ToLower(address)
		if seen[key] {
			continue
		}
		seen[key] = true
		env.recipients = append(env.recipients, address)
	}
	if len(env.recipients) == 0 {
		return nil, mailerrors.NewPermanentMessagingError("at least one recipient is required", nil)
	}
	return env, nil
}

// mailbox accepts both bare addresses and "Name <address>"
func mailbox(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("empty address")
	}
	address, err := mail.ParseAddress(value)
	if err != nil {
		return "", err
	}
	return address.Address, nil
}

// render returns the RFC 822 bytes to transmit. Raw messages are sent as they are,
// with a Message-ID header added when missing. Otherwise the text preview becomes the
// plain text body, next to the HTML body when there is one.
func render(message *models.Message) ([]byte, error) {
	if len(message.Raw) > 0 {
		return ensureMessageID(message.Raw, message.MessageID)
	}

	var h gomail.Header
	h.SetDate(sentAt(message))
	h.Set("Message-Id", message.MessageID)
	h.SetSubject(message.Subject)
	if err := setAddresses(&h, "From", []string{message.From}); err != nil {
		return nil, err
	}
	if err := setAddresses(&h, "To", message.To); err != nil {
		return nil, err
	}
	if err := setAddresses(&h, "Cc", message.Cc); err != nil {
		return nil, err
	}
	if message.InReplyTo != "" {
		h.Set("In-Reply-To", message.InReplyTo)
	}

	var buf bytes.Buffer
	if message.HTMLBody == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := gomail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err = io.WriteString(w, message.TextPreview); err != nil {
			return nil, err
		}
		if err = w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	w, err := gomail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if err = writeInlinePart(w, "text/plain", message.TextPreview); err != nil {
		return nil, err
	}
	if err = writeInlinePart(w, "text/html", message.HTMLBody); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInlinePart(w *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err = io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

func setAddresses(h *gomail.Header, key string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	list := make([]*gomail.Address, 0, len(values))
	for _, v := range values {
		address, err := mail.ParseAddress(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s address", key)
		}
		list = append(list, &gomail.Address{Name: address.Name, Address: address.Address})
	}
	h.SetAddressList(key, list)
	return nil
}

func sentAt(message *models.Message) time.Time {
	if message.SentAt != nil {
		return *message.SentAt
	}
	return time.Now()
}

func ensureMessageID(raw []byte, messageID string) ([]byte, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message header")
	}
	if h.Get("Message-Id") != "" || messageID == "" {
		return raw, nil
	}
	out := make([]byte, 0, len(raw)+len(messageID)+16)
	out = append(out, "Message-ID: "+messageID+"\r\n"...)
	return append(out, raw...), nil
}
