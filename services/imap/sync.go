package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/syncstate"
)

var (
	windowItems = []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate}
	headerItems = []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		imap.FetchEnvelope,
		imap.FetchBodyStructure,
	}
	fullSection   = &imap.BodySectionName{Peek: true}
	headerSection = &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier}, Peek: true}
)

// Sync downloads the visible window of folderServerID into local storage
func (b *Backend) Sync(ctx context.Context, folderServerID string, syncConfig models.SyncConfig, listener interfaces.SyncListener) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.Sync")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)

	err := syncstate.Run(ctx, folderServerID, listener, b.log, func(ctx context.Context, l interfaces.SyncListener) error {
		folder, err := b.storage.GetFolder(ctx, folderServerID)
		if err != nil {
			return mailerrors.Wrap(err, "failed to load local folder")
		}
		return b.withConnection(ctx, func(cn *connection) error {
			l.SyncAuthenticationSuccess()
			s := &folderSync{
				backend:  b,
				cn:       cn,
				folder:   folder,
				cfg:      syncConfig,
				listener: l,
			}
			return s.run(ctx)
		})
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
}

type folderSync struct {
	backend  *Backend
	cn       *connection
	folder   interfaces.BackendFolder
	cfg      models.SyncConfig
	listener interfaces.SyncListener

	status *imap.MailboxStatus
	// remote holds the visible window by UID
	remote       map[uint32]*imap.Message
	moreMessages bool

	// partialWindow is set when remote does not hold every message of the folder
	partialWindow bool
}

func (s *folderSync) id() string {
	return s.folder.ServerID()
}

func (s *folderSync) run(ctx context.Context) error {
	b := s.backend
	folderID := s.id()

	if err := s.selectFolder(); err != nil {
		return err
	}
	b.log.Infof("[%s][%s] Selected folder - Messages: %d, UidValidity: %d, UidNext: %d",
		b.accountUUID, folderID, s.status.Messages, s.status.UidValidity, s.status.UidNext)

	if err := s.checkUidValidity(ctx); err != nil {
		return err
	}

	if s.cfg.ExpungePolicy == enum.ExpungeOnPoll {
		if err := s.cn.c.Expunge(nil); err != nil {
			return mailerrors.NewMessagingError("failed to expunge folder", err)
		}
		if err := s.selectFolder(); err != nil {
			return err
		}
	}

	if err := s.fetchWindow(ctx); err != nil {
		return err
	}

	localIDs, err := s.folder.GetMessageServerIDs(ctx)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load local messages")
	}

	newMessages, err := s.downloadHeaders(ctx, localIDs)
	if err != nil {
		return err
	}

	if s.cfg.SyncRemoteDeletions {
		if err := s.removeDeleted(ctx, localIDs); err != nil {
			return err
		}
	}

	moreMessages := enum.MoreMessagesFalse
	if s.moreMessages {
		moreMessages = enum.MoreMessagesTrue
	}
	if err := s.folder.SetMoreMessages(ctx, moreMessages); err != nil {
		return mailerrors.Wrap(err, "failed to store more messages state")
	}

	s.downloadBodies(ctx, newMessages)

	if len(s.cfg.SyncFlags) > 0 {
		if err := s.syncFlags(ctx, localIDs); err != nil {
			return err
		}
	}

	if err := s.folder.SetLastChecked(ctx, utils.Now()); err != nil {
		return mailerrors.Wrap(err, "failed to store last checked")
	}
	if highest := s.highestUid(); highest > 0 {
		if err := s.folder.SetFolderExtraNumber(ctx, extraHighestUid, int64(highest)); err != nil {
			return mailerrors.Wrap(err, "failed to store highest uid")
		}
	}

	b.log.Infof("[%s][%s] Sync finished, %d new messages", b.accountUUID, folderID, len(newMessages))
	return nil
}

func (s *folderSync) selectFolder() error {
	status, err := s.cn.c.Select(s.id(), false)
	if err != nil {
		return mailerrors.NewMessagingError(fmt.Sprintf("failed to select %s", s.id()), err)
	}
	s.status = status
	return nil
}

// checkUidValidity drops every local message when the server renumbered the folder
func (s *folderSync) checkUidValidity(ctx context.Context) error {
	stored, err := s.folder.GetFolderExtraNumber(ctx, extraUidValidity)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load uid validity")
	}
	current := int64(s.status.UidValidity)
	if stored != nil && *stored == current {
		return nil
	}
	if stored != nil {
		s.backend.log.Warnf("[%s][%s] UIDVALIDITY changed from %d to %d, clearing local messages",
			s.backend.accountUUID, s.id(), *stored, current)
		if err := s.folder.ClearAllMessages(ctx); err != nil {
			return mailerrors.Wrap(err, "failed to clear local messages")
		}
	}
	if err := s.folder.SetFolderExtraNumber(ctx, extraUidValidity, current); err != nil {
		return mailerrors.Wrap(err, "failed to store uid validity")
	}
	return nil
}

func (s *folderSync) visibleLimit(ctx context.Context) int {
	limit, err := s.folder.GetVisibleLimit(ctx)
	if err != nil || limit <= 0 {
		return s.cfg.DefaultVisibleLimit
	}
	return limit
}

// fetchWindow loads UID, flags and internal date of the newest visibleLimit messages,
// restricted to messages since EarliestPollDate when set
func (s *folderSync) fetchWindow(ctx context.Context) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPBackend.fetchWindow")
	defer span.Finish()

	s.remote = make(map[uint32]*imap.Message)
	count := s.status.Messages
	if count == 0 {
		return nil
	}
	limit := s.visibleLimit(ctx)
	span.SetTag("visible_limit", limit)

	var messages []*imap.Message
	var err error
	if s.cfg.EarliestPollDate != nil {
		criteria := imap.NewSearchCriteria()
		criteria.Since = *s.cfg.EarliestPollDate
		var uids []uint32
		uids, err = s.cn.c.UidSearch(criteria)
		if err != nil {
			tracing.TraceErr(span, err)
			return mailerrors.NewMessagingError("failed to search messages since earliest poll date", err)
		}
		s.partialWindow = true
		if len(uids) == 0 {
			return nil
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
			s.moreMessages = true
		}
		set := new(imap.SeqSet)
		set.AddNum(uids...)
		messages, err = fetchAll(s.cn, set, windowItems, true)
	} else {
		start := uint32(1)
		if limit > 0 && count > uint32(limit) {
			start = count - uint32(limit) + 1
			s.moreMessages = true
			s.partialWindow = true
		}
		set := new(imap.SeqSet)
		set.AddRange(start, count)
		messages, err = fetchAll(s.cn, set, windowItems, false)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return mailerrors.NewMessagingError("failed to fetch message list", err)
	}

	for _, msg := range messages {
		if msg.Uid > 0 {
			s.remote[msg.Uid] = msg
		}
	}
	span.SetTag("window.size", len(s.remote))
	return nil
}

// downloadHeaders stores envelopes of window messages not present locally and returns
// them newest first
func (s *folderSync) downloadHeaders(ctx context.Context, localIDs []string) ([]*models.Message, error) {
	folderID := s.id()
	s.listener.SyncHeadersStarted(folderID)

	var newUids []uint32
	for uid := range s.remote {
		if !utils.IsStringInSlice(uidString(uid), localIDs) {
			newUids = append(newUids, uid)
		}
	}
	sort.Slice(newUids, func(i, j int) bool { return newUids[i] > newUids[j] })

	total := len(newUids)
	completed := 0
	var newMessages []*models.Message
	for _, batch := range utils.Chunk(newUids, HEADER_BATCH_SIZE) {
		if err := ctx.Err(); err != nil {
			return nil, mailerrors.NewMessagingError("sync cancelled", err)
		}
		set := new(imap.SeqSet)
		set.AddNum(batch...)
		fetched, err := fetchAll(s.cn, set, headerItems, true)
		if err != nil {
			return nil, mailerrors.NewMessagingError("failed to fetch message headers", err)
		}
		for _, msg := range fetched {
			message := envelopeMessage(msg)
			if err := s.folder.SaveMessage(ctx, message, enum.DownloadStateEnvelope); err != nil {
				return nil, mailerrors.Wrap(err, "failed to store message header")
			}
			newMessages = append(newMessages, message)
		}
		completed += len(batch)
		s.listener.SyncHeadersProgress(folderID, completed, total)
	}

	sort.Slice(newMessages, func(i, j int) bool {
		a, _ := parseUid(newMessages[i].ServerID)
		b, _ := parseUid(newMessages[j].ServerID)
		return a > b
	})

	s.listener.SyncHeadersFinished(folderID, int(s.status.Messages), len(newMessages))
	return newMessages, nil
}

// removeDeleted drops local messages that are no longer on the server. Messages outside
// the visible window are only removed once the server no longer lists their UID.
func (s *folderSync) removeDeleted(ctx context.Context, localIDs []string) error {
	present, err := s.remoteUids()
	if err != nil {
		return err
	}
	remoteIDs := make([]string, 0, len(present))
	for _, uid := range present {
		remoteIDs = append(remoteIDs, uidString(uid))
	}
	removed := utils.Difference(localIDs, remoteIDs)
	if len(removed) == 0 {
		return nil
	}
	if err := s.folder.DestroyMessages(ctx, removed); err != nil {
		return mailerrors.Wrap(err, "failed to remove deleted messages")
	}
	for _, id := range removed {
		s.listener.SyncRemovedMessage(s.id(), id)
	}
	return nil
}

func (s *folderSync) remoteUids() ([]uint32, error) {
	if !s.partialWindow {
		uids := make([]uint32, 0, len(s.remote))
		for uid := range s.remote {
			uids = append(uids, uid)
		}
		return uids, nil
	}
	uids, err := s.cn.c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, mailerrors.NewMessagingError("failed to list message uids", err)
	}
	return uids, nil
}

// downloadBodies fetches full bodies for small messages and headers for the rest.
// A message that fails to download keeps its envelope and is skipped.
func (s *folderSync) downloadBodies(ctx context.Context, messages []*models.Message) {
	b := s.backend
	total := len(messages)
	for i, envelope := range messages {
		if ctx.Err() != nil {
			return
		}
		uid, _ := parseUid(envelope.ServerID)
		state := enum.DownloadStatePartial
		if s.cfg.ShouldDownloadFully(envelope.Size) {
			state = enum.DownloadStateFull
		}

		if err := s.downloadBody(ctx, uid, envelope, state); err != nil {
			b.log.Warnf("[%s][%s] Failed to download message %d: %v", b.accountUUID, s.id(), uid, err)
			continue
		}

		s.listener.SyncNewMessage(s.id(), envelope.ServerID, envelope.HasFlag(enum.FlagSeen))
		s.listener.SyncProgress(s.id(), i+1, total)
	}
}

func (s *folderSync) downloadBody(ctx context.Context, uid uint32, envelope *models.Message, state enum.DownloadState) error {
	section := headerSection
	if state == enum.DownloadStateFull {
		section = fullSection
	}
	raw, err := fetchSection(s.cn, uid, section)
	if err != nil {
		return err
	}
	parsed, err := models.ParseMessage(envelope.ServerID, raw)
	if err != nil {
		return err
	}
	return s.folder.SaveMessage(ctx, mergeEnvelope(parsed, envelope), state)
}

// syncFlags applies remote changes of the configured flags to messages already stored
func (s *folderSync) syncFlags(ctx context.Context, localIDs []string) error {
	for _, id := range localIDs {
		uid, ok := parseUid(id)
		if !ok {
			continue
		}
		msg, ok := s.remote[uid]
		if !ok {
			continue
		}
		localFlags, err := s.folder.GetMessageFlags(ctx, id)
		if err != nil {
			if mailerrors.Is(err, mailerrors.ErrMessageNotFound) {
				continue
			}
			return mailerrors.Wrap(err, "failed to load message flags")
		}
		remoteFlags := fromIMAPFlags(msg.Flags)

		changed := false
		for _, flag := range s.cfg.SyncFlags {
			remote := enum.HasFlag(remoteFlags, flag)
			if enum.HasFlag(localFlags, flag) == remote {
				continue
			}
			if err := s.folder.SetMessageFlag(ctx, id, flag, remote); err != nil {
				return mailerrors.Wrap(err, "failed to store message flag")
			}
			changed = true
		}
		if changed {
			s.listener.SyncFlagChanged(s.id(), id)
		}
	}
	return nil
}

func (s *folderSync) highestUid() uint32 {
	var highest uint32
	for uid := range s.remote {
		if uid > highest {
			highest = uid
		}
	}
	return highest
}

// fetchAll collects a FETCH or UID FETCH response
func fetchAll(cn *connection, set *imap.SeqSet, items []imap.FetchItem, uid bool) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		if uid {
			done <- cn.c.UidFetch(set, items, messages)
		} else {
			done <- cn.c.Fetch(set, items, messages)
		}
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return result, nil
}

// fetchSection returns the literal of section for the message with uid
func fetchSection(cn *connection, uid uint32, section *imap.BodySectionName) ([]byte, error) {
	set := new(imap.SeqSet)
	set.AddNum(uid)
	messages, err := fetchAll(cn, set, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, true)
	if err != nil {
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("failed to fetch message %d", uid), err)
	}
	for _, msg := range messages {
		if msg.Uid != uid {
			continue
		}
		literal := msg.GetBody(section)
		if literal == nil {
			break
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, literal); err != nil {
			return nil, mailerrors.NewMessagingError("failed to read message body", err)
		}
		return buf.Bytes(), nil
	}
	return nil, mailerrors.NewMessagingError(fmt.Sprintf("message %d not found on server", uid), mailerrors.ErrMessageNotFound)
}
