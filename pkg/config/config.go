package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Vector    VectorConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Filter    FilterConfig
	Policy    PolicyConfig
	Synth     SynthConfig
	Suggest   SuggestConfig
	Themes    ThemesConfig
	Research  ResearchConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins string
	FrameAncestors []string
	MaxQuestionLen int
	IsDevelopment  bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled          bool
	Host             string
	Port             int
	Password         string
	DB               int
	EmbeddingTTLMins int
}

// VectorConfig selects the review index. Provider "zilliz" talks to a Milvus or Zilliz
// Cloud endpoint; "memory" keeps an in-process index, persisted under PersistPath when set.
type VectorConfig struct {
	Provider       string
	Endpoint       string
	APIKey         string
	CollectionName string
	Dim            int
	PersistPath    string
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingDim   int
	TimeoutSec     int
	MaxAttempts    int
}

type RetrievalConfig struct {
	BaseK            int
	ResearchK        int
	MinK             int
	MaxK             int
	ShortQuestionLen int
	LongQuestionLen  int
	LongBoost        int
	ResearchPattern  string
	OffDomainPattern string
	CoMentionPattern string
	DegradedSample   int
}

type FilterConfig struct {
	AttributeTerms    []string
	FallbackThreshold int
}

type PolicyConfig struct {
	Terms       []string
	Redirect    string
	Suggestions []string
}

type SynthConfig struct {
	Persona           string
	PrimaryMaxTokens  int
	StrictMaxTokens   int
	ContinueMaxTokens int
	Temperature       float32
	HistoryTurns      int
}

type SuggestConfig struct {
	Fallback  []string
	MaxTokens int
}

type ThemesConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type ResearchConfig struct {
	TimeoutSec int
	K          int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads path instead of searching the default locations when path is set.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reco-agent")
	}

	v.SetEnvPrefix("RECO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration without reading files or the environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 90)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.frameAncestors", []string{"https://*.myshopify.com"})
	v.SetDefault("server.maxQuestionLen", 2000)

	v.SetDefault("sqlite.path", "./data/reco.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLMins", 1440)

	v.SetDefault("vector.provider", "memory")
	v.SetDefault("vector.endpoint", "localhost:19530")
	v.SetDefault("vector.collectionName", "product_reviews")
	v.SetDefault("vector.dim", 768)
	v.SetDefault("vector.persistPath", "./data/index")

	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 768)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.maxAttempts", 2)

	v.SetDefault("retrieval.baseK", 24)
	v.SetDefault("retrieval.researchK", 48)
	v.SetDefault("retrieval.minK", 16)
	v.SetDefault("retrieval.maxK", 64)
	v.SetDefault("retrieval.shortQuestionLen", 40)
	v.SetDefault("retrieval.longQuestionLen", 140)
	v.SetDefault("retrieval.longBoost", 16)
	v.SetDefault("retrieval.researchPattern", `(?i)\banaly[sz]e\b|\binsight|\btrend|\btheme|\bsummary\b|\bwhat customers mention\b|\bacross reviews\b`)
	v.SetDefault("retrieval.offDomainPattern", `(?i)(t-shirt|tshirt|shirt|\btee\b|\btop\b)`)
	v.SetDefault("retrieval.coMentionPattern", `(?i)(bodysuit|onesie|one-piece)`)
	v.SetDefault("retrieval.degradedSample", 8)

	v.SetDefault("filter.attributeTerms", []string{"clasp", "button", "strap", "adjustable"})
	v.SetDefault("filter.fallbackThreshold", 3)

	v.SetDefault("policy.terms", []string{
		"return", "refund", "exchange", "shipping", "delivery", "policy",
		"warranty", "guarantee", "store credit", "restocking",
	})
	v.SetDefault("policy.redirect", "I can't speak to store policies here, but I can help with how this piece actually feels and fits."+
		" Most customers talk about compression that smooths without digging, seamless lines under outfits, and sizing that runs true, with some sizing up for longer torsos."+
		" If you're between sizes, go by the size chart or size up for comfort. For smoothing under dresses, mid to high compression works best; for all-day wear, lighter compression is more comfortable.")
	v.SetDefault("policy.suggestions", []string{
		"Does it show under clothes?",
		"How's the compression level?",
		"Can I wear it all day?",
	})

	v.SetDefault("synth.persona", "Kim")
	v.SetDefault("synth.primaryMaxTokens", 1024)
	v.SetDefault("synth.strictMaxTokens", 2048)
	v.SetDefault("synth.continueMaxTokens", 512)
	v.SetDefault("synth.temperature", 0.55)
	v.SetDefault("synth.historyTurns", 6)

	v.SetDefault("suggest.fallback", []string{
		"Is it breathable?",
		"True to size?",
		"Will it show lines?",
	})
	v.SetDefault("suggest.maxTokens", 256)

	v.SetDefault("themes.enabled", false)
	v.SetDefault("themes.uri", "bolt://localhost:7687")
	v.SetDefault("themes.username", "neo4j")
	v.SetDefault("themes.password", "password")
	v.SetDefault("themes.database", "neo4j")

	v.SetDefault("research.timeoutSec", 180)
	v.SetDefault("research.k", 24)

	v.SetDefault("rateLimit.requestsPerMinute", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
