package config

// Environment variables read by ApplyEnv. Flags given on the command line
// win over the environment.
const (
	EnvESURL                  = "ES_URL"
	EnvESUsername             = "ES_USERNAME"
	EnvESPassword             = "ES_PASSWORD"
	EnvMetricsAccessKeyID     = "METRICS_ACCESS_KEY_ID"
	EnvMetricsSecretAccessKey = "METRICS_SECRET_ACCESS_KEY"
	EnvStateAccessKeyID       = "STATE_ACCESS_KEY_ID"
	EnvStateSecretAccessKey   = "STATE_SECRET_ACCESS_KEY"
)

// ApplyEnv fills empty endpoint and credential fields from getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&cfg.ESURL, EnvESURL)
	fill(&cfg.ESUsername, EnvESUsername)
	fill(&cfg.ESPassword, EnvESPassword)
	fill(&cfg.MetricsAccessKeyID, EnvMetricsAccessKeyID)
	fill(&cfg.MetricsSecretAccessKey, EnvMetricsSecretAccessKey)
	fill(&cfg.StateAccessKeyID, EnvStateAccessKeyID)
	fill(&cfg.StateSecretAccessKey, EnvStateSecretAccessKey)
}
