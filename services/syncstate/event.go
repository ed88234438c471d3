package syncstate

type EventType string

const (
	EventSyncStarted               EventType = "syncStarted"
	EventSyncAuthenticationSuccess EventType = "syncAuthenticationSuccess"
	EventSyncHeadersStarted        EventType = "syncHeadersStarted"
	EventSyncHeadersProgress       EventType = "syncHeadersProgress"
	EventSyncHeadersFinished       EventType = "syncHeadersFinished"
	EventSyncProgress              EventType = "syncProgress"
	EventSyncNewMessage            EventType = "syncNewMessage"
	EventSyncRemovedMessage        EventType = "syncRemovedMessage"
	EventSyncFlagChanged           EventType = "syncFlagChanged"
	EventSyncFinished              EventType = "syncFinished"
	EventSyncFailed                EventType = "syncFailed"
	EventFolderStatusChanged       EventType = "folderStatusChanged"
)

func (t EventType) String() string {
	return string(t)
}

func (t EventType) IsTerminal() bool {
	return t == EventSyncFinished || t == EventSyncFailed
}

// Event is the tagged variant form of a SyncListener callback
type Event struct {
	Type            EventType `json:"type"`
	FolderServerID  string    `json:"folderServerId"`
	MessageServerID string    `json:"messageServerId,omitempty"`
	Completed       int       `json:"completed,omitempty"`
	Total           int       `json:"total,omitempty"`
	NumNewMessages  int       `json:"numNewMessages,omitempty"`
	IsOldMessage    bool      `json:"isOldMessage,omitempty"`
	Message         string    `json:"message,omitempty"`
	Err             error     `json:"-"`
}
