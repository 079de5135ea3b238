package config

import (
	"bytes"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"execcore/internal/entropy"
	"execcore/internal/orchestrator"
	"execcore/internal/order"
	"execcore/internal/risk"
	"execcore/internal/session"
	"execcore/pkg/backoff"
	"execcore/pkg/exception"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"
)

// Credential environment variables.
const (
	EnvUsername        = "FIX_USERNAME"
	EnvPassword        = "FIX_PASSWORD"
	EnvSecret          = "FIX_SECRET"
	EnvJournalPassword = "JOURNAL_DB_PASSWORD"
	EnvRedisPassword   = "LATCH_REDIS_PASSWORD"
)

const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// FileConfig mirrors the YAML (or JSON) config layout.
type FileConfig struct {
	Profile      risk.ProfileName                  `yaml:"profile" validate:"required,oneof=conservative moderate aggressive"`
	Profiles     map[risk.ProfileName]risk.Profile `yaml:"profiles" validate:"dive"`
	Session      SessionConfig                     `yaml:"session"`
	Orchestrator OrchestratorConfig                `yaml:"orchestrator"`
	Entropy      entropy.Config                    `yaml:"entropy"`
	Chaos        session.ChaosConfig               `yaml:"chaos"`
	Paper        PaperConfig                       `yaml:"paper"`
	Journal      JournalConfig                     `yaml:"journal"`
	Latch        LatchConfig                       `yaml:"latch"`
	MetricsAddr  string                            `yaml:"metricsAddr" validate:"omitempty,hostname_port"`
	Pyroscope    PyroscopeConfig                   `yaml:"pyroscope"`
}

// SessionConfig is the session block: where to dial plus the engine settings.
type SessionConfig struct {
	Transport      string          `yaml:"transport" validate:"oneof=tcp ws"`
	Host           string          `yaml:"host" validate:"required"`
	Port           int             `yaml:"port" validate:"gt=0,lte=65535"`
	Path           string          `yaml:"path"`
	DialTimeout    time.Duration   `yaml:"dialTimeout" validate:"gte=0"`
	Backoff        backoff.Backoff `yaml:"backoff"`
	session.Config `yaml:",inline"`
}

// OrchestratorConfig is the tick loop block.
type OrchestratorConfig struct {
	TickInterval           time.Duration   `yaml:"tickInterval" validate:"gte=100ms"`
	EmergencyLogoutTimeout time.Duration   `yaml:"emergencyLogoutTimeout" validate:"gte=0"`
	Instrument             string          `yaml:"instrument" validate:"required"`
	Venue                  string          `yaml:"venue" validate:"required"`
	Side                   order.Side      `yaml:"side" validate:"required"`
	QtyStep                decimal.Decimal `yaml:"qtyStep"`
	EventQueueSize         int             `yaml:"eventQueueSize" validate:"gte=0"`
	RouterWorkers          int             `yaml:"routerWorkers" validate:"gte=0"`
}

// PaperConfig feeds a constant signal and account for paper runs.
type PaperConfig struct {
	WinProbability   float64         `yaml:"winProbability" validate:"gte=0,lte=1"`
	WinLossRatio     float64         `yaml:"winLossRatio" validate:"gt=0"`
	Price            decimal.Decimal `yaml:"price"`
	Interval         time.Duration   `yaml:"interval" validate:"gte=0"`
	Equity           decimal.Decimal `yaml:"equity"`
	TodayDrawdownPct float64         `yaml:"todayDrawdownPct" validate:"gte=0,lte=100"`
}

// JournalConfig points at the Postgres journal. It is disabled when neither
// Host nor DSN is set.
type JournalConfig struct {
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	User            string        `yaml:"user"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslMode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"maxOpenConns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"maxIdleConns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" validate:"gte=0"`
	AutoMigrate     bool          `yaml:"autoMigrate"`

	// Password comes from JOURNAL_DB_PASSWORD.
	Password string `yaml:"-"`
}

func (c JournalConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

// LatchConfig selects the drawdown latch store. Redis wins when RedisAddr is set.
type LatchConfig struct {
	RedisAddr string `yaml:"redisAddr" validate:"omitempty,hostname_port"`
	RedisDB   int    `yaml:"redisDB" validate:"gte=0"`
	RedisKey  string `yaml:"redisKey"`
	File      string `yaml:"file"`

	// RedisPassword comes from LATCH_REDIS_PASSWORD.
	RedisPassword string `yaml:"-"`
}

// PyroscopeConfig enables continuous profiling when ServerAddress is set.
type PyroscopeConfig struct {
	ServerAddress   string `yaml:"serverAddress" validate:"omitempty,url"`
	ApplicationName string `yaml:"applicationName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Profile      risk.Profile
	Profiles     map[risk.ProfileName]risk.Profile
	Orchestrator orchestrator.Config
	Entropy      entropy.Config
	Dialer       session.Dialer
	Credentials  session.Credentials
	Signal       orchestrator.Signal
	SignalEvery  time.Duration
	Account      orchestrator.FixedAccount
	Journal      JournalConfig
	Latch        LatchConfig
	MetricsAddr  string
	Pyroscope    PyroscopeConfig
}

// Default returns the configuration used when no file is given.
func Default() FileConfig {
	sess := session.DefaultConfig()
	sess.SenderCompID, sess.TargetCompID = "EXEC", "VENUE"
	return FileConfig{
		Profile:  risk.Moderate,
		Profiles: risk.DefaultProfiles(),
		Session: SessionConfig{
			Transport:   TransportTCP,
			Host:        "127.0.0.1",
			Port:        9878,
			DialTimeout: session.DefaultDialTimeout,
			Backoff:     backoff.Default(),
			Config:      sess,
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:           orchestrator.MinTickInterval,
			EmergencyLogoutTimeout: 2 * time.Second,
			Instrument:             "BTC-USD",
			Venue:                  "SIM",
			Side:                   order.SideBuy,
			QtyStep:                decimal.RequireFromString("0.0001"),
		},
		Entropy: entropy.DefaultConfig(),
		Paper: PaperConfig{
			WinProbability: 0.55,
			WinLossRatio:   1.5,
			Price:          decimal.NewFromInt(100),
			Interval:       time.Second,
			Equity:         decimal.NewFromInt(10_000),
		},
		Journal: JournalConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Latch: LatchConfig{
			File: "testdata/latch.json",
		},
	}
}

// Load reads a config file over the defaults. An empty path loads the defaults.
func Load(path string) (Loaded, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := Decode(data, &cfg); err != nil {
			return Loaded{}, errors.Wrapf(err, "decode config %s", path)
		}
	}
	return Resolve(cfg)
}

// Decode parses YAML or JSON into cfg, keeping the values the document does not set.
// Unknown keys are rejected.
func Decode(data []byte, cfg *FileConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Resolve validates cfg, reads the credentials from the environment and
// builds the runtime values.
func Resolve(cfg FileConfig) (Loaded, error) {
	if err := validate.Struct(cfg); err != nil {
		return Loaded{}, errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}

	profiles := make(map[risk.ProfileName]risk.Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		p.Name = name
		if err := p.Validate(); err != nil {
			return Loaded{}, err
		}
		profiles[name] = p
	}
	profile, err := risk.Lookup(profiles, cfg.Profile)
	if err != nil {
		return Loaded{}, err
	}

	if err := cfg.Entropy.Validate(); err != nil {
		return Loaded{}, err
	}

	orch := orchestrator.Config{
		TickInterval:           cfg.Orchestrator.TickInterval,
		EmergencyLogoutTimeout: cfg.Orchestrator.EmergencyLogoutTimeout,
		Instrument:             cfg.Orchestrator.Instrument,
		Venue:                  cfg.Orchestrator.Venue,
		Side:                   cfg.Orchestrator.Side,
		QtyStep:                cfg.Orchestrator.QtyStep,
		Backoff:                cfg.Session.Backoff,
		Session:                cfg.Session.Config,
		Chaos:                  cfg.Chaos,
		EventQueueSize:         cfg.Orchestrator.EventQueueSize,
		RouterWorkers:          cfg.Orchestrator.RouterWorkers,
	}
	if err := orch.Validate(); err != nil {
		return Loaded{}, err
	}
	if cfg.Orchestrator.QtyStep.IsNegative() {
		return Loaded{}, errors.Wrap(exception.ErrInvalidConfig, "qtyStep must be >= 0")
	}
	if b := cfg.Session.Backoff; b.Jitter < 0 || b.Jitter > 1 || (b.Max > 0 && b.Max < b.Min) {
		return Loaded{}, errors.Wrapf(exception.ErrInvalidConfig, "invalid session backoff: %+v", b)
	}

	creds, err := credentialsFromEnv()
	if err != nil {
		return Loaded{}, err
	}

	journal := cfg.Journal
	journal.Password = os.Getenv(EnvJournalPassword)
	latch := cfg.Latch
	latch.RedisPassword = os.Getenv(EnvRedisPassword)

	return Loaded{
		Profile:      profile,
		Profiles:     profiles,
		Orchestrator: orch,
		Entropy:      cfg.Entropy,
		Dialer:       cfg.Session.dialer(),
		Credentials:  creds,
		Signal: orchestrator.Signal{
			WinProbability: cfg.Paper.WinProbability,
			WinLossRatio:   cfg.Paper.WinLossRatio,
			Price:          cfg.Paper.Price,
		},
		SignalEvery: cfg.Paper.Interval,
		Account: orchestrator.FixedAccount{
			Equity:           cfg.Paper.Equity,
			TodayDrawdownPct: cfg.Paper.TodayDrawdownPct,
		},
		Journal:     journal,
		Latch:       latch,
		MetricsAddr: cfg.MetricsAddr,
		Pyroscope:   cfg.Pyroscope,
	}, nil
}

func credentialsFromEnv() (session.Credentials, error) {
	creds := session.Credentials{Username: os.Getenv(EnvUsername)}
	if password := os.Getenv(EnvPassword); password != "" {
		creds.Password = []byte(password)
	}
	if secret := os.Getenv(EnvSecret); secret != "" {
		creds.Secret = []byte(secret)
	}
	if len(creds.Password) != 0 && len(creds.Secret) == 0 {
		return session.Credentials{}, errors.Wrapf(exception.ErrInvalidConfig, "%s is set but %s is empty", EnvPassword, EnvSecret)
	}
	return creds, nil
}

// Addr is the host:port the session dials.
func (c SessionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c SessionConfig) dialer() session.Dialer {
	if c.Transport == TransportWS {
		return session.WSDialer{
			URL:              "ws://" + c.Addr() + c.Path,
			HandshakeTimeout: c.DialTimeout,
		}
	}
	return session.TCPDialer{
		Addr:        c.Addr(),
		DialTimeout: c.DialTimeout,
		KeepAlive:   session.DefaultKeepAlive,
	}
}
