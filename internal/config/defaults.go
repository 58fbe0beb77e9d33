package config

// DefaultConfig returns the default worker configuration. Values here are
// tuned for a single interruptible GPU node running against a shared queue.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			NumWorkers:          2,
			PollSeconds:         3,
			MaxRetriesPerJob:    2,
			LeaseTimeoutMinutes: 30,
			JobTimeoutMinutes:   20,
			MaxJobsPerRun:       0,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			DSN:    "packworker.db",
		},
		Content: ContentConfig{
			Backend:   "s3",
			Endpoint:  "${R2_ENDPOINT}",
			Bucket:    "chapterbridge-data",
			AccessKey: "${R2_ACCESS_KEY_ID}",
			SecretKey: "${R2_SECRET_ACCESS_KEY}",
			UseSSL:    true,
		},
		Inference: InferenceConfig{
			BaseURL:           "http://localhost:8000/v1",
			APIKey:            "${VLLM_API_KEY}",
			Model:             "qwen2.5-7b",
			ModelVersion:      "qwen2.5-7b-awq_nlp_pack_v1",
			MaxTokens:         16384,
			Temperature:       0.3,
			TimeoutSeconds:    500,
			RequestsPerMinute: 60,
		},
		Retry: RetryConfig{
			Attempts:         3,
			BaseDelaySeconds: 2,
			MaxDelaySeconds:  60,
		},
	}
}
