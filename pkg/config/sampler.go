package config

import "time"

// SamplerConfig holds defaults for the command-line sampler and submitter.
type SamplerConfig struct {
	APIURL   string
	APIToken string
	Match    string
	Every    time.Duration
	Count    int
	Detailed bool
}

// LoadSamplerConfig constructs a SamplerConfig from environment variables.
func LoadSamplerConfig() SamplerConfig {
	return SamplerConfig{
		APIURL:   GetString("MEMTIMELINE_API_URL", "http://localhost:4000"),
		APIToken: GetString("MEMTIMELINE_API_TOKEN", ""),
		Match:    GetString("SAMPLER_MATCH", "chrome"),
		Every:    GetDuration("SAMPLER_EVERY", time.Second),
		Count:    GetInt("SAMPLER_COUNT", 10),
		Detailed: GetBool("SAMPLER_DETAILED", false),
	}
}
