package settings

// DB config keys and defaults for runtime settings.
const (
	// RecordOnFailureKey toggles usage accounting for failed attempts.
	RecordOnFailureKey = "RECORD_ON_FAILURE"
	// ArchiveOnRolloverKey toggles archiving aggregates before period reset.
	ArchiveOnRolloverKey = "ARCHIVE_ON_ROLLOVER"
	// RolloverSweepIntervalSecondsKey controls the rollover sweep interval in seconds.
	RolloverSweepIntervalSecondsKey = "ROLLOVER_SWEEP_INTERVAL_SECONDS"
	// DecisionsRetentionDaysKey controls how long decision rows are kept; 0 keeps forever.
	DecisionsRetentionDaysKey = "DECISIONS_RETENTION_DAYS"
	// ExportPageSizeKey controls the page size used by the decision export stream.
	ExportPageSizeKey = "EXPORT_PAGE_SIZE"

	// DefaultRecordOnFailure keeps failed attempts off the usage counters.
	DefaultRecordOnFailure = false
	// DefaultArchiveOnRollover archives aggregates before each reset.
	DefaultArchiveOnRollover = true
	// DefaultRolloverSweepIntervalSeconds is the fallback sweep interval (seconds).
	DefaultRolloverSweepIntervalSeconds = 300
	// DefaultDecisionsRetentionDays keeps decision rows indefinitely.
	DefaultDecisionsRetentionDays = 0
	// DefaultExportPageSize is the fallback export page size.
	DefaultExportPageSize = 1000
)
