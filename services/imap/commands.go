package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-message"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

func backendUnsupported(op string) error {
	return mailerrors.NewPermanentMessagingError(fmt.Sprintf("%s is not supported", op), mailerrors.ErrUnsupportedOperation)
}

// localFolder returns nil when the folder is not stored locally
func (b *Backend) localFolder(ctx context.Context, folderServerID string) interfaces.BackendFolder {
	folder, err := b.storage.GetFolder(ctx, folderServerID)
	if err != nil {
		if !mailerrors.Is(err, mailerrors.ErrFolderNotFound) {
			b.log.Warnf("[%s][%s] Failed to load local folder: %v", b.accountUUID, folderServerID, err)
		}
		return nil
	}
	return folder
}

func (b *Backend) DownloadMessage(ctx context.Context, syncConfig models.SyncConfig, folderServerID, messageServerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.DownloadMessage")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	err := b.download(ctx, folderServerID, messageServerID, func(envelope *models.Message) enum.DownloadState {
		if syncConfig.ShouldDownloadFully(envelope.Size) {
			return enum.DownloadStateFull
		}
		return enum.DownloadStatePartial
	})
	tracing.TraceErr(span, err)
	return err
}

// DownloadMessageStructure refreshes envelope and body structure, keeping a stored body
func (b *Backend) DownloadMessageStructure(ctx context.Context, folderServerID, messageServerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.DownloadMessageStructure")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	err := b.download(ctx, folderServerID, messageServerID, func(*models.Message) enum.DownloadState {
		return enum.DownloadStatePartial
	})
	tracing.TraceErr(span, err)
	return err
}

func (b *Backend) DownloadCompleteMessage(ctx context.Context, folderServerID, messageServerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.DownloadCompleteMessage")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	err := b.download(ctx, folderServerID, messageServerID, func(*models.Message) enum.DownloadState {
		return enum.DownloadStateFull
	})
	tracing.TraceErr(span, err)
	return err
}

func (b *Backend) download(ctx context.Context, folderServerID, messageServerID string, stateFor func(*models.Message) enum.DownloadState) error {
	folder, err := b.storage.GetFolder(ctx, folderServerID)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load local folder")
	}
	uid, ok := parseUid(messageServerID)
	if !ok {
		return mailerrors.NewPermanentMessagingError(fmt.Sprintf("invalid message id %q", messageServerID), nil)
	}

	var message *models.Message
	var state enum.DownloadState
	err = b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		set := new(imap.SeqSet)
		set.AddNum(uid)
		fetched, err := fetchAll(cn, set, headerItems, true)
		if err != nil {
			return mailerrors.NewMessagingError("failed to fetch message headers", err)
		}
		if len(fetched) == 0 {
			return mailerrors.NewMessagingError(fmt.Sprintf("message %d not found on server", uid), mailerrors.ErrMessageNotFound)
		}
		envelope := envelopeMessage(fetched[0])

		state = stateFor(envelope)
		if state == enum.DownloadStatePartial {
			if _, existing, err := folder.GetMessage(ctx, messageServerID); err == nil && existing == enum.DownloadStateFull {
				state = enum.DownloadStateFull
			}
		}
		section := headerSection
		if state == enum.DownloadStateFull {
			section = fullSection
		}
		raw, err := fetchSection(cn, uid, section)
		if err != nil {
			return err
		}
		parsed, err := models.ParseMessage(messageServerID, raw)
		if err != nil {
			return mailerrors.NewMessagingError("failed to parse message", err)
		}
		message = mergeEnvelope(parsed, envelope)
		return nil
	})
	if err != nil {
		return err
	}
	return mailerrors.Wrap(folder.SaveMessage(ctx, message, state), "failed to store message")
}

func (b *Backend) SetFlag(ctx context.Context, folderServerID string, messageServerIDs []string, flag enum.Flag, value bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.SetFlag")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)
	span.SetTag("flag", flag.String())
	span.SetTag("value", value)

	set, ids := uidSet(messageServerIDs)
	if len(ids) == 0 {
		return nil
	}
	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		return storeFlag(cn, set, flag, value)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if folder := b.localFolder(ctx, folderServerID); folder != nil {
		for _, id := range ids {
			err := folder.SetMessageFlag(ctx, id, flag, value)
			if err != nil && !mailerrors.Is(err, mailerrors.ErrMessageNotFound) {
				return mailerrors.Wrap(err, "failed to store message flag")
			}
		}
	}
	return nil
}

func storeFlag(cn *connection, set *imap.SeqSet, flag enum.Flag, value bool) error {
	imapFlag, ok := toIMAPFlag(flag)
	if !ok {
		return mailerrors.NewPermanentMessagingError(fmt.Sprintf("unsupported flag %s", flag), nil)
	}
	var op imap.FlagsOp = imap.RemoveFlags
	if value {
		op = imap.AddFlags
	}
	if err := cn.c.UidStore(set, imap.FormatFlagsOp(op, true), []interface{}{imapFlag}, nil); err != nil {
		return mailerrors.NewMessagingError("failed to store flags", err)
	}
	return nil
}

func allMessages() *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddRange(1, 0)
	return set
}

func (b *Backend) MarkAllAsRead(ctx context.Context, folderServerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.MarkAllAsRead")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	err := b.withConnection(ctx, func(cn *connection) error {
		status, err := cn.open(folderServerID)
		if err != nil {
			return err
		}
		if status.Messages == 0 {
			return nil
		}
		return storeFlag(cn, allMessages(), enum.FlagSeen, true)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return b.updateLocal(ctx, folderServerID, func(folder interfaces.BackendFolder, ids []string) error {
		for _, id := range ids {
			if err := folder.SetMessageFlag(ctx, id, enum.FlagSeen, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// updateLocal runs fn with every locally stored message id of a stored folder
func (b *Backend) updateLocal(ctx context.Context, folderServerID string, fn func(folder interfaces.BackendFolder, ids []string) error) error {
	folder := b.localFolder(ctx, folderServerID)
	if folder == nil {
		return nil
	}
	ids, err := folder.GetMessageServerIDs(ctx)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load local messages")
	}
	return mailerrors.Wrap(fn(folder, ids), "failed to update local messages")
}

// Expunge removes every message flagged deleted from the folder
func (b *Backend) Expunge(ctx context.Context, folderServerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.Expunge")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		if err := cn.c.Expunge(nil); err != nil {
			return mailerrors.NewMessagingError("failed to expunge", err)
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return b.updateLocal(ctx, folderServerID, func(folder interfaces.BackendFolder, ids []string) error {
		var deleted []string
		for _, id := range ids {
			flags, err := folder.GetMessageFlags(ctx, id)
			if err != nil {
				return err
			}
			if enum.HasFlag(flags, enum.FlagDeleted) {
				deleted = append(deleted, id)
			}
		}
		if len(deleted) == 0 {
			return nil
		}
		return folder.DestroyMessages(ctx, deleted)
	})
}

func (b *Backend) ExpungeMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.ExpungeMessages")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	set, ids := uidSet(messageServerIDs)
	if len(ids) == 0 {
		return nil
	}
	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		return expungeUids(cn, set)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if folder := b.localFolder(ctx, folderServerID); folder != nil {
		return mailerrors.Wrap(folder.DestroyMessages(ctx, ids), "failed to remove local messages")
	}
	return nil
}

// uidExpungeCommand is UID EXPUNGE from UIDPLUS, used through commands.Uid
type uidExpungeCommand struct {
	SeqSet *imap.SeqSet
}

func (cmd *uidExpungeCommand) Command() *imap.Command {
	return &imap.Command{Name: "EXPUNGE", Arguments: []interface{}{cmd.SeqSet}}
}

// expungeUids expunges only set when the server has UIDPLUS and the whole folder otherwise
func expungeUids(cn *connection, set *imap.SeqSet) error {
	if !cn.supports("UIDPLUS") {
		if err := cn.c.Expunge(nil); err != nil {
			return mailerrors.NewMessagingError("failed to expunge", err)
		}
		return nil
	}
	status, err := cn.c.Execute(&commands.Uid{Cmd: &uidExpungeCommand{SeqSet: set}}, nil)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return mailerrors.NewMessagingError("failed to expunge messages", err)
	}
	return nil
}

// DeleteMessages flags messages deleted and expunges them when the policy is immediate
func (b *Backend) DeleteMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.DeleteMessages")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	set, ids := uidSet(messageServerIDs)
	if len(ids) == 0 {
		return nil
	}
	expunge := b.expungePolicy == enum.ExpungeImmediately
	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		if err := storeFlag(cn, set, enum.FlagDeleted, true); err != nil {
			return err
		}
		if expunge {
			return expungeUids(cn, set)
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	folder := b.localFolder(ctx, folderServerID)
	if folder == nil {
		return nil
	}
	if expunge {
		return mailerrors.Wrap(folder.DestroyMessages(ctx, ids), "failed to remove local messages")
	}
	for _, id := range ids {
		err := folder.SetMessageFlag(ctx, id, enum.FlagDeleted, true)
		if err != nil && !mailerrors.Is(err, mailerrors.ErrMessageNotFound) {
			return mailerrors.Wrap(err, "failed to store message flag")
		}
	}
	return nil
}

func (b *Backend) DeleteAllMessages(ctx context.Context, folderServerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.DeleteAllMessages")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	expunge := b.expungePolicy == enum.ExpungeImmediately
	err := b.withConnection(ctx, func(cn *connection) error {
		status, err := cn.open(folderServerID)
		if err != nil {
			return err
		}
		if status.Messages == 0 {
			return nil
		}
		if err := storeFlag(cn, allMessages(), enum.FlagDeleted, true); err != nil {
			return err
		}
		if expunge {
			if err := cn.c.Expunge(nil); err != nil {
				return mailerrors.NewMessagingError("failed to expunge", err)
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return b.updateLocal(ctx, folderServerID, func(folder interfaces.BackendFolder, ids []string) error {
		if expunge {
			return folder.ClearAllMessages(ctx)
		}
		for _, id := range ids {
			if err := folder.SetMessageFlag(ctx, id, enum.FlagDeleted, true); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) MoveMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.MoveMessages")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, sourceFolderServerID)

	mapping, err := b.transfer(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs, true, false)
	tracing.TraceErr(span, err)
	return mapping, err
}

func (b *Backend) MoveMessagesAndMarkAsRead(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.MoveMessagesAndMarkAsRead")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, sourceFolderServerID)

	mapping, err := b.transfer(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs, true, true)
	tracing.TraceErr(span, err)
	return mapping, err
}

func (b *Backend) CopyMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.CopyMessages")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, sourceFolderServerID)

	mapping, err := b.transfer(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs, false, false)
	tracing.TraceErr(span, err)
	return mapping, err
}

// transfer copies or moves messages between folders. An empty id list returns an empty
// mapping without touching the server.
func (b *Backend) transfer(ctx context.Context, source, target string, messageServerIDs []string, move, markAsRead bool) (map[string]string, error) {
	set, ids := uidSet(messageServerIDs)
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	var mapping map[string]string
	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(source); err != nil {
			return err
		}
		if markAsRead {
			if err := storeFlag(cn, set, enum.FlagSeen, true); err != nil {
				return err
			}
		}

		// with UIDPLUS the COPY path reports the new uids
		if move && cn.supports("MOVE") && !cn.supports("UIDPLUS") {
			moved, err := uidMove(cn, set, target)
			if err != nil {
				return err
			}
			if moved {
				return nil
			}
			b.log.Warnf("[%s][%s] MOVE refused by server, falling back to COPY", b.accountUUID, source)
		}

		var err error
		mapping, err = copyUids(cn, set, target)
		if err != nil {
			return err
		}
		if !move {
			return nil
		}
		if err := storeFlag(cn, set, enum.FlagDeleted, true); err != nil {
			return err
		}
		if cn.supports("UIDPLUS") || b.expungePolicy == enum.ExpungeImmediately {
			return expungeUids(cn, set)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.transferLocal(ctx, source, target, ids, mapping, move, markAsRead)
	return mapping, nil
}

// transferLocal mirrors a completed transfer into local storage
func (b *Backend) transferLocal(ctx context.Context, source, target string, ids []string, mapping map[string]string, move, markAsRead bool) {
	sourceFolder := b.localFolder(ctx, source)
	if sourceFolder == nil {
		return
	}
	if targetFolder := b.localFolder(ctx, target); targetFolder != nil {
		for oldID, newID := range mapping {
			message, state, err := sourceFolder.GetMessage(ctx, oldID)
			if err != nil {
				continue
			}
			message.ServerID = newID
			if markAsRead {
				message.Flags = enum.WithFlag(message.Flags, enum.FlagSeen, true)
			}
			if err := targetFolder.SaveMessage(ctx, message, state); err != nil {
				b.log.Warnf("[%s][%s] Failed to store copied message %s: %v", b.accountUUID, target, newID, err)
			}
		}
	}
	if move {
		if err := sourceFolder.DestroyMessages(ctx, ids); err != nil {
			b.log.Warnf("[%s][%s] Failed to remove moved messages: %v", b.accountUUID, source, err)
		}
	}
}

// uidMove runs UID MOVE. It reports false without an error when the server answers
// NO or BAD, in which case nothing was moved.
func uidMove(cn *connection, set *imap.SeqSet, target string) (bool, error) {
	status, err := cn.c.Execute(&commands.Uid{Cmd: &commands.Move{SeqSet: set, Mailbox: target}}, nil)
	if err != nil {
		return false, mailerrors.NewMessagingError(fmt.Sprintf("failed to move messages to %s", target), err)
	}
	if status.Type == imap.StatusRespNo || status.Type == imap.StatusRespBad {
		return false, nil
	}
	return true, nil
}

// copyUids runs UID COPY and returns the COPYUID mapping, nil when the server sends none
func copyUids(cn *connection, set *imap.SeqSet, target string) (map[string]string, error) {
	status, err := cn.c.Execute(&commands.Uid{Cmd: &commands.Copy{SeqSet: set, Mailbox: target}}, nil)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("failed to copy messages to %s", target), err)
	}
	if status.Code != "COPYUID" || len(status.Arguments) < 3 {
		return nil, nil
	}
	return parseCopyUid(status.Arguments[1], status.Arguments[2]), nil
}

func parseCopyUid(sourceArg, targetArg interface{}) map[string]string {
	sourceSet, err := imap.ParseSeqSet(fmt.Sprint(sourceArg))
	if err != nil {
		return nil
	}
	targetSet, err := imap.ParseSeqSet(fmt.Sprint(targetArg))
	if err != nil {
		return nil
	}
	sources := expandSeqSet(sourceSet)
	targets := expandSeqSet(targetSet)
	if len(sources) != len(targets) {
		return nil
	}
	mapping := make(map[string]string, len(sources))
	for i := range sources {
		mapping[uidString(sources[i])] = uidString(targets[i])
	}
	return mapping
}

func expandSeqSet(set *imap.SeqSet) []uint32 {
	var result []uint32
	for _, seq := range set.Set {
		if seq.Start == 0 || seq.Stop == 0 {
			return nil
		}
		start, stop := seq.Start, seq.Stop
		if start > stop {
			start, stop = stop, start
		}
		for n := start; n <= stop; n++ {
			result = append(result, n)
		}
	}
	return result
}

// Search returns matching server ids newest first. Without a query only the flag filters apply.
func (b *Backend) Search(ctx context.Context, folderServerID, query string, requiredFlags, forbiddenFlags []enum.Flag, performFullTextSearch bool) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.Search")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)
	span.SetTag("full_text", performFullTextSearch)

	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = toIMAPFlags(requiredFlags)
	criteria.WithoutFlags = toIMAPFlags(forbiddenFlags)
	if query = strings.TrimSpace(query); query != "" {
		if performFullTextSearch {
			criteria.Text = []string{query}
		} else {
			subject := imap.NewSearchCriteria()
			subject.Header.Add("Subject", query)
			from := imap.NewSearchCriteria()
			from.Header.Add("From", query)
			criteria.Or = [][2]*imap.SearchCriteria{{subject, from}}
		}
	}

	var uids []uint32
	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		var err error
		uids, err = cn.c.UidSearch(criteria)
		if err != nil {
			return mailerrors.NewMessagingError("failed to search", err)
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	result := make([]string, 0, len(uids))
	for _, uid := range uids {
		result = append(result, uidString(uid))
	}
	span.SetTag("results", len(result))
	return result, nil
}

// FetchPart returns the transfer-decoded content of one body part
func (b *Backend) FetchPart(ctx context.Context, folderServerID, messageServerID string, part models.Part) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.FetchPart")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)
	span.SetTag("part", part.ID)

	uid, ok := parseUid(messageServerID)
	if !ok {
		return nil, mailerrors.NewPermanentMessagingError(fmt.Sprintf("invalid message id %q", messageServerID), nil)
	}
	path, err := partPath(part.ID)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		section := &imap.BodySectionName{BodyPartName: imap.BodyPartName{Path: path}, Peek: true}
		var err error
		raw, err = fetchSection(cn, uid, section)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	decoded, err := decodePart(raw, part.Encoding)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return decoded, nil
}

func partPath(id string) ([]int, error) {
	var path []int
	for _, segment := range strings.Split(id, ".") {
		n, err := strconv.Atoi(segment)
		if err != nil || n <= 0 {
			return nil, mailerrors.NewPermanentMessagingError(fmt.Sprintf("invalid part id %q", id), nil)
		}
		path = append(path, n)
	}
	return path, nil
}

// decodePart removes the content transfer encoding; unknown encodings pass through
func decodePart(raw []byte, encoding string) ([]byte, error) {
	var header message.Header
	header.Set("Content-Type", "application/octet-stream")
	if encoding != "" {
		header.Set("Content-Transfer-Encoding", encoding)
	}
	entity, err := message.New(header, bytes.NewReader(raw))
	if err != nil && !message.IsUnknownEncoding(err) {
		return nil, mailerrors.NewMessagingError("failed to decode part", err)
	}
	decoded, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, mailerrors.NewMessagingError("failed to decode part", err)
	}
	return decoded, nil
}

func (b *Backend) FindByMessageID(ctx context.Context, folderServerID, messageID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.FindByMessageID")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	var serverID string
	err := b.withConnection(ctx, func(cn *connection) error {
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		var err error
		serverID, err = findByMessageID(cn, messageID)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return serverID, nil
}

func findByMessageID(cn *connection, messageID string) (string, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return "", nil
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := cn.c.UidSearch(criteria)
	if err != nil {
		return "", mailerrors.NewMessagingError("failed to search by message id", err)
	}
	if len(uids) == 0 {
		return "", nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uidString(uids[0]), nil
}

// UploadMessage appends the raw message and looks up the id the server assigned
func (b *Backend) UploadMessage(ctx context.Context, folderServerID string, msg *models.Message) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.UploadMessage")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	if msg == nil || len(msg.Raw) == 0 {
		return "", mailerrors.NewPermanentMessagingError("message has no content to upload", nil)
	}
	messageID := msg.MessageID
	if messageID == "" {
		if parsed, err := models.ParseMessage("", msg.Raw); err == nil {
			messageID = parsed.MessageID
		}
	}
	date := time.Now()
	if msg.InternalDate != nil {
		date = *msg.InternalDate
	}

	var serverID string
	err := b.withConnection(ctx, func(cn *connection) error {
		if err := cn.c.Append(folderServerID, toIMAPFlags(msg.Flags), date, bytes.NewBuffer(msg.Raw)); err != nil {
			return mailerrors.NewMessagingError(fmt.Sprintf("failed to append to %s", folderServerID), err)
		}
		if _, err := cn.open(folderServerID); err != nil {
			return err
		}
		var err error
		serverID, err = findByMessageID(cn, messageID)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	if serverID != "" {
		if folder := b.localFolder(ctx, folderServerID); folder != nil {
			stored := *msg
			stored.ServerID = serverID
			stored.MessageID = messageID
			if err := folder.SaveMessage(ctx, &stored, enum.DownloadStateFull); err != nil {
				return serverID, mailerrors.Wrap(err, "failed to store uploaded message")
			}
		}
	}
	b.log.Infof("[%s][%s] Uploaded message %s as %s", b.accountUUID, folderServerID, utils.NormalizeMessageID(messageID), serverID)
	return serverID, nil
}
