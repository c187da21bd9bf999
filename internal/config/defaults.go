package config

const (
	defaultDataDir    = "~/.local/share/partbank"
	defaultStagingDir = "~/.local/share/partbank/staging"
	defaultLogDir     = "~/.local/share/partbank/logs"
	defaultStorageRoot = "~/.local/share/partbank/objects"
	defaultAPIBind    = "127.0.0.1:7512"

	defaultVisionBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultVisionModel          = "google/gemini-3-flash-preview"
	defaultVisionTimeoutSeconds = 60

	defaultDPI                = 300
	defaultOCRMode            = "auto"
	defaultMinTextChars       = 100
	defaultMinCharsPerPage    = 10
	defaultMaxWhitespaceRatio = 0.9
	defaultOCRConfidence      = 0.8

	defaultAcceptThreshold = 0.5
	defaultAliasConfidence = 0.95
	defaultFuzzyCap        = 0.9
	defaultFamilyBonus     = 0.3

	defaultPollInterval       = 2
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultExtractWorkers     = 3
	defaultClassifyWorkers    = 2
	defaultSplitWorkers       = 2
	defaultCleanupWorkers     = 1

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Storage: Storage{
			Root: defaultStorageRoot,
		},
		Vision: Vision{
			BaseURL:        defaultVisionBaseURL,
			Model:          defaultVisionModel,
			TimeoutSeconds: defaultVisionTimeoutSeconds,
		},
		Extraction: Extraction{
			Pdftotext:          "pdftotext",
			Pdftoppm:           "pdftoppm",
			DPI:                defaultDPI,
			OCRMode:            defaultOCRMode,
			MinTextChars:       defaultMinTextChars,
			MinCharsPerPage:    defaultMinCharsPerPage,
			MaxWhitespaceRatio: defaultMaxWhitespaceRatio,
			OCRConfidence:      defaultOCRConfidence,
		},
		Matching: Matching{
			AcceptThreshold: defaultAcceptThreshold,
			AliasConfidence: defaultAliasConfidence,
			FuzzyCap:        defaultFuzzyCap,
			FamilyBonus:     defaultFamilyBonus,
		},
		Queue: Queue{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			ExtractWorkers:     defaultExtractWorkers,
			ClassifyWorkers:    defaultClassifyWorkers,
			SplitWorkers:       defaultSplitWorkers,
			// Ingestion must never run concurrently; a batch commits once.
			IngestWorkers:  1,
			CleanupWorkers: defaultCleanupWorkers,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Review:         true,
			Completion:     true,
			Errors:         true,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
