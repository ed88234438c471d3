package enum

type ExpungePolicy string

const (
	ExpungeImmediately ExpungePolicy = "IMMEDIATELY"
	ExpungeManually    ExpungePolicy = "MANUALLY"
	ExpungeOnPoll      ExpungePolicy = "ON_POLL"
)

func (p ExpungePolicy) String() string {
	return string(p)
}

type DownloadState string

const (
	DownloadStateFull     DownloadState = "FULL"
	DownloadStatePartial  DownloadState = "PARTIAL"
	DownloadStateEnvelope DownloadState = "ENVELOPE"
)

func (s DownloadState) String() string {
	return string(s)
}

type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "IDLE"
	SyncStatusSyncing   SyncStatus = "SYNCING"
	SyncStatusSucceeded SyncStatus = "SUCCEEDED"
	SyncStatusFailed    SyncStatus = "FAILED"
)

func (s SyncStatus) String() string {
	return string(s)
}
