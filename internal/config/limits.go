package config

import "time"

const (
	// Matching
	WaitingEntryTTL    = 2 * time.Minute
	MaxInterests       = 20
	MaxInterestLength  = 64
	CandidateBatchSize = 50

	// Messages
	MaxMessageLength = 2000
	MessageRetention = 24 * time.Hour
	DefaultPageSize  = 50
	MaxPageSize      = 200

	// Attachments
	MaxAttachmentBytes = 10 << 20
	MaxVoiceDuration   = 5 * time.Minute

	// Reports
	ReportScoreWindow   = 24 * time.Hour
	MaxReportReasonSize = 1000

	// Ban
	BanThresholdScore = 250
	BanLevel1Duration = 6 * time.Hour
	BanLevel2Duration = 24 * time.Hour
	BanLevel3Duration = 7 * 24 * time.Hour
	BanRepeatWindow   = 7 * 24 * time.Hour
	BanHistoryWindow  = 30 * 24 * time.Hour
)

var ReportWeights = map[string]int{
	"Low":      5,
	"Medium":   50,
	"Critical": 250,
}
