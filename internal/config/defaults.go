package config

const DefaultSystemPrompt = `Tu es Jarvis, l'assistant virtuel de Nourx, une entreprise de services numériques basée à Abidjan.
Tu réponds en français, de manière chaleureuse, professionnelle et concise.
Tu aides les clients avec leurs questions, leurs projets et leurs demandes de support.
Si une question dépasse tes compétences, propose d'ouvrir un ticket avec /ticket ou de contacter un humain avec /human.
N'invente jamais d'informations sur les tarifs ou les délais.`

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:               "~/.jarvis",
			LogLevel:              "info",
			DefaultProvider:       "openai",
			MaxConcurrentMessages: 10,
			SystemPrompt:          DefaultSystemPrompt,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:       true,
			SessionDB:     "~/.jarvis/whatsapp.db",
			LogLevel:      "ERROR",
			ReplyInGroups: true,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Memory: MemoryConfig{
			DBPath:                    "~/.jarvis/jarvis.db",
			MaxHistoryPerConversation: 20,
		},
		Interaction: InteractionConfig{
			Chunking: ChunkingConfig{
				MaxLinesPerChunk: 4,
				MaxChunkLength:   500,
				MinChunkLength:   50,
			},
			Delays: DelaysConfig{
				InitialTyping:  3000,
				TypingBase:     1500,
				TypingPerWord:  200,
				TypingPerPunct: 300,
				TypingMin:      1000,
				TypingMax:      5000,
				ReadingPerWord: 150,
				ReadingMin:     500,
				ReadingMax:     2000,
				ShortPause:     1000,
				MediumPause:    2000,
				LongPause:      3000,
			},
			Features: FeaturesConfig{
				VoiceMessages:   true,
				MessageChunking: true,
				HumanSimulation: true,
				Reading:         true,
				TypingIndicator: true,
			},
			Voice: VoiceConfig{
				Enabled:              true,
				Provider:             "openai",
				MaxFileSizeMB:        10,
				TranscriptionTimeout: 30,
				WhisperModel:         "whisper-1",
				Language:             "fr",
				SilentErrors:         true,
				ErrorFallback:        "Je n'ai pas pu comprendre ce message",
			},
		},
		Admin: AdminConfig{
			BackupDir: "~/.jarvis/backups",
		},
		Documents: DocumentsConfig{
			Enabled:    true,
			MaxSizeMB:  10,
			MaxPerUser: 10,
			ChunkSize:  1000,
			SearchTopK: 3,
		},
		Events: EventsConfig{
			Exchange: "jarvis.events",
			Source:   "jarvis",
		},
		Business: BusinessConfig{
			Timezone:  "Africa/Abidjan",
			OpenHour:  8,
			CloseHour: 18,
			Company:   "Nourx",
		},
	}
}
