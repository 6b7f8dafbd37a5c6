package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist, looking in the working directory first
// and then in the closest parent directory holding a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles(envFiles, "")
	if len(existing) == 0 {
		if root := moduleRoot(); root != "" {
			existing = existingFiles(envFiles, root)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(files []string, dir string) []string {
	out := make([]string, 0, len(files))
	for _, file := range files {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"cveteval"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type ImportOptions struct {
	Encoding   string `env:"IMPORT_ENCODING" envDefault:"UTF-8"`
	Timezone   string `env:"IMPORT_TIMEZONE" envDefault:"Europe/Paris"`
	DateLayout string `env:"IMPORT_DATE_LAYOUT" envDefault:"02/01/2006"`
	// Empty means the per-kind default delimiter.
	Delimiter    string `env:"IMPORT_DELIMITER" envDefault:""`
	ManifestsDir string `env:"IMPORT_MANIFESTS_DIR" envDefault:""`

	location *time.Location
}

// Location returns the timezone used to read planning dates.
func (o *ImportOptions) Location() *time.Location {
	if o.location == nil {
		return time.UTC
	}
	return o.location
}

func (o *ImportOptions) Validate() error {
	loc, err := time.LoadLocation(strings.TrimSpace(o.Timezone))
	if err != nil {
		return fmt.Errorf("invalid IMPORT_TIMEZONE=%q: %w", o.Timezone, err)
	}
	o.location = loc
	switch o.Delimiter {
	case "", ",", ";":
	default:
		return fmt.Errorf("invalid IMPORT_DELIMITER=%q (expected , or ;)", o.Delimiter)
	}
	if strings.TrimSpace(o.DateLayout) == "" {
		return fmt.Errorf("IMPORT_DATE_LAYOUT must not be empty")
	}
	return nil
}

type WizardOptions struct {
	Storage  string        `env:"WIZARD_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	TTL      time.Duration `env:"WIZARD_TTL" envDefault:"1h"`
}

func (w *WizardOptions) Validate() error {
	if w.Storage != "memory" && w.Storage != "redis" {
		return fmt.Errorf("wizard Storage must be 'memory' or 'redis', got '%s'", w.Storage)
	}
	if w.Storage == "redis" && w.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when WIZARD_STORAGE is 'redis'")
	}
	if w.TTL <= 0 {
		return fmt.Errorf("WIZARD_TTL must be positive, got %s", w.TTL)
	}
	return nil
}

type RateLimitOptions struct {
	Enabled   bool   `env:"RATE_LIMIT_ENABLED" envDefault:"false"`
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"20"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL  string `env:"RATE_LIMIT_REDIS_URL" envDefault:""`
}

func (r *RateLimitOptions) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.GlobalRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_GLOBAL_RPS must be positive, got %d", r.GlobalRPS)
	}
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	return nil
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"cveteval"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type Configuration struct {
	Database      DatabaseOptions
	Import        ImportOptions
	Wizard        WizardOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions

	MigrationsTable  string `env:"MIGRATIONS_TABLE" envDefault:"cveteval_goose_db_version"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	MaxUploadSize    int64  `env:"MAX_UPLOAD_SIZE" envDefault:"33554432"`
	// The API reads the acting user id from this header; authentication is handled upstream.
	UserIDHeader    string   `env:"USER_ID_HEADER" envDefault:"X-User-ID"`
	RequestIDHeader string   `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	RealIPHeader    string   `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`
	CORSOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	logger *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

// Load builds a fresh configuration; tests use it instead of the process singleton.
func Load(envFiles ...string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 && len(envFiles) > 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.Import.Validate(); err != nil {
		return fmt.Errorf("import configuration error: %w", err)
	}
	if err := c.Wizard.Validate(); err != nil {
		return fmt.Errorf("wizard configuration error: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(c.LogrusLogLevel())
	if c.GoAppEnvironment == Production {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}
