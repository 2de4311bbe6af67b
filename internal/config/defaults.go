package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Service: ServiceConfig{
			URL:            "wss://hypha.aicell.io/ws",
			ServiceID:      "public/aria-agents",
			UserID:         "anonymous",
			DialTimeoutSec: 10,
		},
		Storage: StorageConfig{
			Backend:     "sqlite",
			DBPath:      "~/.ariachat/chats.db",
			ArtifactURL: "https://hypha.aicell.io",
			TimeoutSec:  30,
		},
		Chat: ChatConfig{
			Extensions:   []string{"aria"},
			ArtifactTool: "SummaryWebsite",
			Autosave:     true,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
