package config

const (
	defaultRecordingsDir       = "~/.local/share/retrace/Recordings"
	defaultLogDir              = "~/.local/share/retrace/logs"
	defaultCatalogFile         = "catalog.db"
	defaultSessionID           = "session_1"
	defaultParticipantID       = "participant_1"
	defaultFrameRate           = 60
	defaultIFrameInterval      = 250
	defaultTemplateRoot        = "ReplayCollection"
	defaultCaptureURL          = "localhost:4455"
	defaultCaptureRetryLimit   = 5
	defaultCaptureConnectDelay = 3
	defaultTransferBatchSize   = 100
	defaultTransferListen      = "127.0.0.1:7590"
	defaultTransferSaveDir     = "~/.local/share/retrace/Received"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RecordingsDir: defaultRecordingsDir,
			LogDir:        defaultLogDir,
		},
		Recording: Recording{
			SessionID:       defaultSessionID,
			ParticipantID:   defaultParticipantID,
			FrameRate:       defaultFrameRate,
			IFrameInterval:  defaultIFrameInterval,
			CustomVariables: true,
		},
		Replay: Replay{
			FrameRate:    defaultFrameRate,
			TemplateRoot: defaultTemplateRoot,
		},
		Capture: Capture{
			URL:                 defaultCaptureURL,
			RetryLimit:          defaultCaptureRetryLimit,
			ConnectDelaySeconds: defaultCaptureConnectDelay,
		},
		Transfer: Transfer{
			BatchSize: defaultTransferBatchSize,
			Listen:    defaultTransferListen,
			SaveDir:   defaultTransferSaveDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
