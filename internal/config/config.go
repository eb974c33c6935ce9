package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string

	// Remote editor-auth exchange. PluginID/SecretKey are the two
	// server-held secrets traded for a short-lived bearer token.
	AuthURL   string
	PluginID  string
	SecretKey string
	UserID    string
	UserRole  string

	// Template catalog service.
	TemplateAPIURL string
	TemplateTiers  []string

	// Runtime scripts injected into the hosting page.
	EditorScriptURL string
	ShimScriptURL   string
	ShimFallbackURL string
	EditorPageURL   string
	EditorLocale    string

	// Render watchdog tuning.
	RenderPollInterval time.Duration
	RenderPollAttempts int

	// Persistent identity store key. Redis optional; empty URL disables
	// persistence across restarts.
	RedisURL    string
	IdentityKey string

	// Template cache - optional, empty disables.
	DatabaseURL string

	// Template search - optional, empty disables.
	MeiliURL       string
	MeiliMasterKey string

	// Preview snapshot storage - optional, empty disables.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Design history repos.
	ReposDir string
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8686"),
		CORSOrigin: getenv("MAILSMITH_CORS_ORIGIN", "*"),

		AuthURL:   getenv("EDITOR_AUTH_URL", "https://auth.getbee.io/loginV2"),
		PluginID:  getenv("EDITOR_PLUGIN_ID", ""),
		SecretKey: getenv("EDITOR_SECRET_KEY", ""),
		UserID:    getenv("EDITOR_USER_ID", "mailsmith-user"),
		UserRole:  getenv("EDITOR_USER_ROLE", "editor"),

		TemplateAPIURL: getenv("TEMPLATE_API_URL", "https://api.getbee.io/v1/catalog"),
		TemplateTiers:  splitCSV(getenv("TEMPLATE_TIERS", "free,essentials,core")),

		EditorScriptURL: getenv("EDITOR_SCRIPT_URL", "https://app-rsrc.getbee.io/plugin/BeePlugin.js"),
		ShimScriptURL:   getenv("SHIM_SCRIPT_URL", "https://unpkg.com/vue@2/dist/vue.min.js"),
		ShimFallbackURL: getenv("SHIM_FALLBACK_URL", "https://cdn.jsdelivr.net/npm/vue@2/dist/vue.min.js"),
		EditorPageURL:   getenv("EDITOR_PAGE_URL", ""),
		EditorLocale:    getenv("EDITOR_LOCALE", "en-US"),

		RenderPollInterval: time.Duration(getenvInt("RENDER_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		RenderPollAttempts: getenvInt("RENDER_POLL_ATTEMPTS", 40),

		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		IdentityKey: getenv("IDENTITY_STORAGE_KEY", "mailsmith:email-id"),

		DatabaseURL: getenv("DATABASE_URL", ""),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "mailsmith-previews"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),

		ReposDir: getenv("MAILSMITH_REPOS_DIR", "./data/repos"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
