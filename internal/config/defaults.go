package config

const (
	defaultBaseURL            = "http://localhost:5000/api"
	defaultTimeoutSeconds     = 30
	defaultPollIntervalMillis = 2000
	defaultNumInferenceStep   = 50
	defaultImageDimension     = 1024
	defaultGuidanceScale      = 5.0
	defaultUploadConcurrency  = 3
	defaultToastMillis        = 3000
	defaultNtfyTimeout        = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// ImageDimensions lists the enumerated height and width values the backend accepts.
var ImageDimensions = []int{256, 512, 768, 1024}

// DefaultAcceptedTypes lists the image content types the backend stores.
var DefaultAcceptedTypes = []string{"image/png", "image/jpeg", "image/gif"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        defaultBaseURL,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Generation: Generation{
			PollIntervalMillis: defaultPollIntervalMillis,
			NumInferenceStep:   defaultNumInferenceStep,
			Height:             defaultImageDimension,
			Width:              defaultImageDimension,
			GuidanceScale:      defaultGuidanceScale,
		},
		Upload: Upload{
			Concurrency:   defaultUploadConcurrency,
			AcceptedTypes: append([]string(nil), DefaultAcceptedTypes...),
		},
		Notifications: Notifications{
			DurationMillis: defaultToastMillis,
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
