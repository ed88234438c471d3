package imap

import (
	"strconv"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

const forwardedFlag = "$Forwarded"

var imapFlags = map[enum.Flag]string{
	enum.FlagSeen:      imap.SeenFlag,
	enum.FlagAnswered:  imap.AnsweredFlag,
	enum.FlagFlagged:   imap.FlaggedFlag,
	enum.FlagDeleted:   imap.DeletedFlag,
	enum.FlagDraft:     imap.DraftFlag,
	enum.FlagRecent:    imap.RecentFlag,
	enum.FlagForwarded: forwardedFlag,
}

func toIMAPFlag(flag enum.Flag) (string, bool) {
	f, ok := imapFlags[flag]
	return f, ok
}

func toIMAPFlags(flags []enum.Flag) []string {
	result := make([]string, 0, len(flags))
	for _, flag := range flags {
		// \Recent is session state and cannot be stored
		if flag == enum.FlagRecent {
			continue
		}
		if f, ok := imapFlags[flag]; ok {
			result = append(result, f)
		}
	}
	return result
}

// fromIMAPFlags drops keywords that have no local representation
func fromIMAPFlags(flags []string) []enum.Flag {
	result := make([]enum.Flag, 0, len(flags))
	for _, f := range flags {
		for local, remote := range imapFlags {
			if strings.EqualFold(f, remote) {
				result = append(result, local)
				break
			}
		}
	}
	return result
}

func uidString(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func parseUid(serverID string) (uint32, bool) {
	uid, err := strconv.ParseUint(serverID, 10, 32)
	if err != nil || uid == 0 {
		return 0, false
	}
	return uint32(uid), true
}

// uidSet converts server ids to a UID set, skipping ids that are not UIDs
func uidSet(serverIDs []string) (*imap.SeqSet, []string) {
	set := new(imap.SeqSet)
	valid := make([]string, 0, len(serverIDs))
	for _, id := range serverIDs {
		if uid, ok := parseUid(id); ok {
			set.AddNum(uid)
			valid = append(valid, id)
		}
	}
	return set, valid
}

func formatAddress(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	email := addr.MailboxName
	if addr.HostName != "" {
		email += "@" + addr.HostName
	}
	if addr.PersonalName != "" {
		return addr.PersonalName + " <" + email + ">"
	}
	return email
}

func addressList(addrs []*imap.Address) []string {
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil || addr.MailboxName == "" {
			continue
		}
		email := addr.MailboxName
		if addr.HostName != "" {
			email += "@" + addr.HostName
		}
		result = append(result, email)
	}
	return result
}

// envelopeMessage projects the envelope level data of a fetch response
func envelopeMessage(msg *imap.Message) *models.Message {
	m := &models.Message{
		ServerID: uidString(msg.Uid),
		Flags:    fromIMAPFlags(msg.Flags),
		Size:     int64(msg.Size),
	}
	if !msg.InternalDate.IsZero() {
		internal := msg.InternalDate
		m.InternalDate = &internal
	}
	if env := msg.Envelope; env != nil {
		m.MessageID = env.MessageId
		m.InReplyTo = env.InReplyTo
		m.Subject = env.Subject
		if len(env.From) > 0 {
			m.From = formatAddress(env.From[0])
		}
		m.To = addressList(env.To)
		m.Cc = addressList(env.Cc)
		if !env.Date.IsZero() {
			date := env.Date
			m.SentAt = &date
		}
	}
	if msg.BodyStructure != nil {
		m.Parts = bodyParts(msg.BodyStructure, "")
		for _, part := range m.Parts {
			if part.IsAttachment() {
				m.AttachmentCount++
			}
		}
	}
	return m
}

// bodyParts flattens a BODYSTRUCTURE into leaf parts addressed by section path
func bodyParts(bs *imap.BodyStructure, prefix string) []models.Part {
	if len(bs.Parts) == 0 {
		id := prefix
		if id == "" {
			id = "1"
		}
		part := models.Part{
			ID:          id,
			ContentType: strings.ToLower(bs.MIMEType + "/" + bs.MIMESubType),
			Size:        int64(bs.Size),
			Disposition: strings.ToLower(bs.Disposition),
			ContentID:   strings.Trim(bs.Id, "<>"),
			Encoding:    strings.ToLower(bs.Encoding),
			Charset:     bs.Params["charset"],
		}
		if name := bs.DispositionParams["filename"]; name != "" {
			part.Filename = name
		} else if name := bs.Params["name"]; name != "" {
			part.Filename = name
		}
		return []models.Part{part}
	}

	var parts []models.Part
	for i, child := range bs.Parts {
		id := strconv.Itoa(i + 1)
		if prefix != "" {
			id = prefix + "." + id
		}
		parts = append(parts, bodyParts(child, id)...)
	}
	return parts
}

// mergeEnvelope carries server side attributes a parsed body does not contain
func mergeEnvelope(parsed, envelope *models.Message) *models.Message {
	parsed.ServerID = envelope.ServerID
	parsed.Flags = envelope.Flags
	parsed.InternalDate = envelope.InternalDate
	if envelope.Size > 0 {
		parsed.Size = envelope.Size
	}
	if parsed.SentAt == nil {
		parsed.SentAt = envelope.SentAt
	}
	if len(envelope.Parts) > 0 {
		parsed.Parts = envelope.Parts
		parsed.AttachmentCount = envelope.AttachmentCount
	}
	return parsed
}
