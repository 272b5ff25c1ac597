package config

import "flag"

var (
	flagConfig      = flag.String("config", "", "Path to config file")
	flagDebug       = flag.Bool("debug", false, "Enable debug logging")
	flagLogFile     = flag.String("log-file", "", "Write logs to a rotating file")
	flagConcurrency = flag.Int("concurrency", 0, "Maximum HTTP requests in flight")
	flagRetryDelay  = flag.Duration("retry-delay", 0, "Delay before a failed request is retried")
	flagTimeout     = flag.Duration("timeout", 0, "Timeout for a single HTTP request")
	flagSection     = flag.String("section", "", "Mesh section to build: all, opaque or transparent")
	flagMerge       = flag.Bool("merge", false, "Bake instance transforms into one mesh per instance")
	flagMeshURL     = flag.String("mesh-url", "", "Prefix mesh files are resolved against")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the non-flag arguments.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
		cfg.Transport.Verbose = true
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagConcurrency > 0 {
		cfg.Transport.MaxConcurrency = *flagConcurrency
	}
	if *flagRetryDelay > 0 {
		cfg.Transport.RetryDelay = *flagRetryDelay
	}
	if *flagTimeout > 0 {
		cfg.Transport.RequestTimeout = *flagTimeout
	}
	if *flagSection != "" {
		cfg.Build.Section = *flagSection
	}
	if *flagMerge {
		cfg.Build.Merge = true
	}
	if *flagMeshURL != "" {
		cfg.Build.MeshURL = *flagMeshURL
	}
}
