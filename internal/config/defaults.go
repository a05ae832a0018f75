package config

const (
	defaultInputDir         = "~/tsmill/input"
	defaultOutputDir        = "~/tsmill/output"
	defaultStagingDir       = "~/.local/share/tsmill/staging"
	defaultLogDir           = "~/.local/share/tsmill/logs"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultWatchSuffix      = ".ts"
	defaultPollInterval     = 10
	defaultSettlePolls      = 1
	defaultMaxAttempts      = 3
	defaultRetryDelay       = 120
	defaultFFmpegBinary     = "ffmpeg"
	defaultVideoCodec       = "h264_nvenc"
	defaultPreset           = "p4"
	defaultRateControl      = "vbr"
	defaultQuality          = 23
	defaultVideoFilter      = "scale=1920:1080,setsar=1:1"
	defaultAudioCodec       = "aac"
	defaultAudioBitrate     = "192k"
	defaultOutputExtension  = "mp4"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:   defaultInputDir,
			OutputDir:  defaultOutputDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Watch: Watch{
			Suffix:       defaultWatchSuffix,
			PollInterval: defaultPollInterval,
			SettlePolls:  defaultSettlePolls,
		},
		Encoder: Encoder{
			Binary:          defaultFFmpegBinary,
			VideoCodec:      defaultVideoCodec,
			Preset:          defaultPreset,
			RateControl:     defaultRateControl,
			Quality:         defaultQuality,
			VideoFilter:     defaultVideoFilter,
			AudioCodec:      defaultAudioCodec,
			AudioBitrate:    defaultAudioBitrate,
			OutputExtension: defaultOutputExtension,
		},
		Workflow: Workflow{
			MaxAttempts:       defaultMaxAttempts,
			RetryDelaySeconds: defaultRetryDelay,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
