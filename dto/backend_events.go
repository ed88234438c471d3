package dto

// BackendChanged is emitted when an account's cached backend was dropped
type BackendChanged struct {
	AccountUUID string `json:"accountUuid"`
	Email       string `json:"email"`
	ServerType  string `json:"serverType"`
}

// PushReceived asks a worker to sync one folder after the server signalled a change
type PushReceived struct {
	AccountUUID    string `json:"accountUuid"`
	FolderServerID string `json:"folderServerId"`
}

type PushFailed struct {
	AccountUUID string `json:"accountUuid"`
	Error       string `json:"error"`
	Permanent   bool   `json:"permanent"`
}

type PushNotSupported struct {
	AccountUUID string `json:"accountUuid"`
}
