// Package memstore is a thread-safe in-memory BackendStorage. It backs the demo
// deployment and the backend tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
)

type Storage struct {
	mu      sync.RWMutex
	folders map[string]*Folder
	order   []string
	extras  extras
}

func New() *Storage {
	return &Storage{folders: make(map[string]*Folder), extras: newExtras()}
}

var _ interfaces.BackendStorage = (*Storage)(nil)

func (s *Storage) GetFolder(ctx context.Context, folderServerID string) (interfaces.BackendFolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folder, ok := s.folders[folderServerID]
	if !ok {
		return nil, mailerrors.ErrFolderNotFound
	}
	return folder, nil
}

// Folder is GetFolder without the interface conversion, for tests
func (s *Storage) Folder(folderServerID string) (*Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folder, ok := s.folders[folderServerID]
	return folder, ok
}

func (s *Storage) GetFolderServerIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids, nil
}

func (s *Storage) CreateFolders(ctx context.Context, folders []models.FolderInfo) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Storage.CreateFolders")
	defer span.Finish()
	tracing.TagComponentMemoryRepository(span)
	span.LogKV("count", len(folders))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range folders {
		if _, exists := s.folders[info.ServerID]; exists {
			continue
		}
		s.folders[info.ServerID] = newFolder(info)
		s.order = append(s.order, info.ServerID)
	}
	return nil
}

func (s *Storage) DeleteFolders(ctx context.Context, folderServerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range folderServerIDs {
		delete(s.folders, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *Storage) ChangeFolder(ctx context.Context, folderServerID, name string, folderType enum.FolderType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder, ok := s.folders[folderServerID]
	if !ok {
		return mailerrors.ErrFolderNotFound
	}
	folder.mu.Lock()
	folder.info.Name = name
	folder.info.Type = folderType
	folder.mu.Unlock()
	return nil
}

func (s *Storage) GetExtraString(ctx context.Context, name string) (*string, error) {
	return s.extras.getString(name), nil
}

func (s *Storage) SetExtraString(ctx context.Context, name, value string) error {
	s.extras.setString(name, value)
	return nil
}

func (s *Storage) GetExtraNumber(ctx context.Context, name string) (*int64, error) {
	return s.extras.getNumber(name), nil
}

func (s *Storage) SetExtraNumber(ctx context.Context, name string, value int64) error {
	s.extras.setNumber(name, value)
	return nil
}

type storedMessage struct {
	message       models.Message
	downloadState enum.DownloadState
}

type Folder struct {
	mu           sync.RWMutex
	info         models.FolderInfo
	messages     map[string]*storedMessage
	moreMessages enum.MoreMessages
	lastChecked  *time.Time
	visibleLimit int
	extras       extras
}

var _ interfaces.BackendFolder = (*Folder)(nil)

func newFolder(info models.FolderInfo) *Folder {
	if info.Type == "" {
		info.Type = enum.FolderTypeRegular
	}
	return &Folder{
		info:         info,
		messages:     make(map[string]*storedMessage),
		moreMessages: enum.MoreMessagesUnknown,
		extras:       newExtras(),
	}
}

func (f *Folder) ServerID() string {
	return f.info.ServerID
}

func (f *Folder) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.info.Name
}

func (f *Folder) Type() enum.FolderType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.info.Type
}

func (f *Folder) SetVisibleLimit(limit int) {
	f.mu.Lock()
	f.visibleLimit = limit
	f.mu.Unlock()
}

func (f *Folder) GetVisibleLimit(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.visibleLimit, nil
}

// GetMessageServerIDs returns ids sorted for stable output
func (f *Folder) GetMessageServerIDs(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *Folder) GetAllMessagesAndEffectiveDates(ctx context.Context) (map[string]*time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make(map[string]*time.Time, len(f.messages))
	for id, m := range f.messages {
		result[id] = effectiveDate(&m.message)
	}
	return result, nil
}

func (f *Folder) DestroyMessages(ctx context.Context, messageServerIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range messageServerIDs {
		delete(f.messages, id)
	}
	return nil
}

func (f *Folder) ClearAllMessages(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = make(map[string]*storedMessage)
	return nil
}

func (f *Folder) GetMoreMessages(ctx context.Context) (enum.MoreMessages, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.moreMessages, nil
}

func (f *Folder) SetMoreMessages(ctx context.Context, moreMessages enum.MoreMessages) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moreMessages = moreMessages
	return nil
}

func (f *Folder) SetLastChecked(ctx context.Context, timestamp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastChecked = &timestamp
	return nil
}

func (f *Folder) LastChecked() *time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastChecked
}

func (f *Folder) IsMessagePresent(ctx context.Context, messageServerID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.messages[messageServerID]
	return ok, nil
}

func (f *Folder) GetMessage(ctx context.Context, messageServerID string) (*models.Message, enum.DownloadState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	m, ok := f.messages[messageServerID]
	if !ok {
		return nil, "", mailerrors.ErrMessageNotFound
	}
	copied := copyMessage(&m.message)
	return copied, m.downloadState, nil
}

func (f *Folder) GetMessageFlags(ctx context.Context, messageServerID string) ([]enum.Flag, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	m, ok := f.messages[messageServerID]
	if !ok {
		return nil, mailerrors.ErrMessageNotFound
	}
	return append([]enum.Flag(nil), m.message.Flags...), nil
}

func (f *Folder) SetMessageFlag(ctx context.Context, messageServerID string, flag enum.Flag, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.messages[messageServerID]
	if !ok {
		return mailerrors.ErrMessageNotFound
	}
	m.message.Flags = enum.WithFlag(m.message.Flags, flag, value)
	return nil
}

func (f *Folder) SaveMessage(ctx context.Context, message *models.Message, downloadState enum.DownloadState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages[message.ServerID] = &storedMessage{message: *copyMessage(message), downloadState: downloadState}
	return nil
}

func (f *Folder) GetOldestMessageDate(ctx context.Context) (*time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var oldest *time.Time
	for _, m := range f.messages {
		date := effectiveDate(&m.message)
		if date != nil && (oldest == nil || date.Before(*oldest)) {
			oldest = date
		}
	}
	return oldest, nil
}

func (f *Folder) GetFolderExtraString(ctx context.Context, name string) (*string, error) {
	return f.extras.getString(name), nil
}

func (f *Folder) SetFolderExtraString(ctx context.Context, name, value string) error {
	f.extras.setString(name, value)
	return nil
}

func (f *Folder) GetFolderExtraNumber(ctx context.Context, name string) (*int64, error) {
	return f.extras.getNumber(name), nil
}

func (f *Folder) SetFolderExtraNumber(ctx context.Context, name string, value int64) error {
	f.extras.setNumber(name, value)
	return nil
}

func effectiveDate(m *models.Message) *time.Time {
	if m.InternalDate != nil {
		return m.InternalDate
	}
	return m.SentAt
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	c.Flags = append([]enum.Flag(nil), m.Flags...)
	c.To = append([]string(nil), m.To...)
	c.Cc = append([]string(nil), m.Cc...)
	c.Parts = append([]models.Part(nil), m.Parts...)
	if m.Raw != nil {
		c.Raw = append([]byte(nil), m.Raw...)
	}
	return &c
}

type extras struct {
	mu      *sync.RWMutex
	strings map[string]string
	numbers map[string]int64
}

func newExtras() extras {
	return extras{mu: &sync.RWMutex{}, strings: make(map[string]string), numbers: make(map[string]int64)}
}

func (e extras) getString(name string) *string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.strings[name]; ok {
		return &v
	}
	return nil
}

func (e extras) setString(name, value string) {
	e.mu.Lock()
	e.strings[name] = value
	e.mu.Unlock()
}

func (e extras) getNumber(name string) *int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.numbers[name]; ok {
		return &v
	}
	return nil
}

func (e extras) setNumber(name string, value int64) {
	e.mu.Lock()
	e.numbers[name] = value
	e.mu.Unlock()
}
