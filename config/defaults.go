package config

const (
	defaultDataDir            = "~/.local/share/director-agent"
	defaultConcurrency        = 3
	defaultCallTimeoutSeconds = 600
	defaultGracePeriodSeconds = 10
	defaultMaxToolProcesses   = 4
	defaultRetryMaxAttempts   = 4
	defaultRetryBaseDelayMS   = 1000
	defaultRetryMaxDelayMS    = 30000
	defaultRetryBackoffRate   = 2.0
	defaultRetryJitter        = "FULL"
	defaultFailureThreshold   = 5
	defaultCooldownSeconds    = 30
	defaultMaxCooldownSeconds = 600
	defaultStoreBackend       = "file"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults. Tool commands
// mirror the generation CLIs the orchestrator was built around; override them
// per deployment.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Execution: Execution{
			Concurrency:        defaultConcurrency,
			CallTimeoutSeconds: defaultCallTimeoutSeconds,
			GracePeriodSeconds: defaultGracePeriodSeconds,
			MaxToolProcesses:   defaultMaxToolProcesses,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
			BackoffRate: defaultRetryBackoffRate,
			Jitter:      defaultRetryJitter,
		},
		Circuit: Circuit{
			FailureThreshold:   defaultFailureThreshold,
			CooldownSeconds:    defaultCooldownSeconds,
			MaxCooldownSeconds: defaultMaxCooldownSeconds,
		},
		Store: Store{
			Backend: defaultStoreBackend,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Tools: map[string]Tool{
			"research": {Command: "deep-research"},
			"tts":      {Command: "gen-tts"},
			"music":    {Command: "gen-music"},
			"image":    {Command: "generate-gemini-image"},
			"video":    {Command: "generate-veo", TimeoutSeconds: 1800},
			"mux":      {Command: "ffmpeg-compose", TimeoutSeconds: 900},
		},
	}
}
