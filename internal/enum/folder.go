package enum

type FolderType string

const (
	FolderTypeInbox   FolderType = "INBOX"
	FolderTypeOutbox  FolderType = "OUTBOX"
	FolderTypeDrafts  FolderType = "DRAFTS"
	FolderTypeSent    FolderType = "SENT"
	FolderTypeTrash   FolderType = "TRASH"
	FolderTypeSpam    FolderType = "SPAM"
	FolderTypeArchive FolderType = "ARCHIVE"
	FolderTypeRegular FolderType = "REGULAR"
)

func (t FolderType) String() string {
	return string(t)
}

// MoreMessages is the tri-state the sync engine keeps per folder to decide whether
// older messages can still be paged in. UNKNOWN is the initial value.
type MoreMessages string

const (
	MoreMessagesUnknown MoreMessages = "UNKNOWN"
	MoreMessagesFalse   MoreMessages = "FALSE"
	MoreMessagesTrue    MoreMessages = "TRUE"
)

func (m MoreMessages) String() string {
	return string(m)
}

// ParseMoreMessages never maps an unrecognised value to FALSE.
func ParseMoreMessages(s string) MoreMessages {
	switch MoreMessages(s) {
	case MoreMessagesFalse:
		return MoreMessagesFalse
	case MoreMessagesTrue:
		return MoreMessagesTrue
	default:
		return MoreMessagesUnknown
	}
}

type FolderCreateResult string

const (
	FolderCreated       FolderCreateResult = "CREATED"
	FolderAlreadyExists FolderCreateResult = "ALREADY_EXISTS"
)

func (r FolderCreateResult) String() string {
	return string(r)
}
