package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/sensors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Settings struct {
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
	Lock     Lock     `yaml:"lock"`
	Mail     Mail     `yaml:"mail"`
	Auth     Auth     `yaml:"auth"`
	Log      Log      `yaml:"log"`
	Monitor  Monitor  `yaml:"monitor"`
	Agent    Agent    `yaml:"agent"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Database struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslMode"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

type Lock struct {
	Backend        string   `yaml:"backend"`
	RedisAddr      string   `yaml:"redisAddr"`
	RedisPassword  string   `yaml:"redisPassword"`
	RedisDB        int      `yaml:"redisDB"`
	AcquireTimeout Duration `yaml:"acquireTimeout"`
	TTL            Duration `yaml:"ttl"`
}

type Mail struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type Auth struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Monitor struct {
	Interval   Duration `yaml:"interval"`
	StaleAfter Duration `yaml:"staleAfter"`
}

type Agent struct {
	ServerURL         string                  `yaml:"serverURL"`
	DeviceID          string                  `yaml:"deviceID"`
	PollInterval      Duration                `yaml:"pollInterval"`
	HealthInterval    Duration                `yaml:"healthInterval"`
	TelemetryInterval Duration                `yaml:"telemetryInterval"`
	SensorInterval    Duration                `yaml:"sensorInterval"`
	PumpFlowRate      float64                 `yaml:"pumpFlowRate"`
	FakeSensors       bool                    `yaml:"fakeSensors"`
	Station           sensors.StationSettings `yaml:"station"`
}

var (
	DefaultSettings = Settings{
		HTTP: HTTP{Addr: ":8080"},
		Database: Database{
			Driver:       "sqlite",
			Path:         "db.sqlite",
			Host:         "127.0.0.1",
			Port:         5432,
			User:         "postgres",
			Name:         "waterplant",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 10,
		},
		Lock: Lock{
			Backend:        "memory",
			RedisAddr:      "localhost:6379",
			AcquireTimeout: Duration(2 * time.Second),
			TTL:            Duration(10 * time.Second),
		},
		Mail: Mail{
			Port: 587,
			From: "waterplant@localhost",
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Monitor: Monitor{
			Interval:   Duration(5 * time.Second),
			StaleAfter: Duration(15 * time.Second),
		},
		Agent: Agent{
			ServerURL:         "http://localhost:8080",
			PollInterval:      Duration(5 * time.Second),
			HealthInterval:    Duration(5 * time.Second),
			TelemetryInterval: Duration(time.Minute),
			SensorInterval:    Duration(time.Second),
			PumpFlowRate:      20,
			FakeSensors:       true,
			Station:           sensors.DefaultStationSettings,
		},
	}
)

// Load reads the settings file at path. A missing file is created with the
// defaults. Environment variables (optionally from .env) override the file.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	settings := DefaultSettings

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		data, err := yaml.Marshal(settings)
		if err != nil {
			return nil, err
		}

		if err := ioutil.WriteFile(path, data, 0o600); err != nil {
			return nil, err
		}
	} else {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	settings.applyEnv()
	return &settings, nil
}

func (s *Settings) applyEnv() {
	s.HTTP.Addr = getEnv("HTTP_ADDR", s.HTTP.Addr)

	s.Database.Driver = getEnv("DB_DRIVER", s.Database.Driver)
	s.Database.Path = getEnv("DB_PATH", s.Database.Path)
	s.Database.Host = getEnv("DB_HOST", s.Database.Host)
	s.Database.Port = getEnvInt("DB_PORT", s.Database.Port)
	s.Database.User = getEnv("DB_USER", s.Database.User)
	s.Database.Password = getEnv("DB_PASSWORD", s.Database.Password)
	s.Database.Name = getEnv("DB_NAME", s.Database.Name)
	s.Database.SSLMode = getEnv("DB_SSLMODE", s.Database.SSLMode)

	s.Lock.Backend = getEnv("LOCK_BACKEND", s.Lock.Backend)
	s.Lock.RedisAddr = getEnv("REDIS_ADDR", s.Lock.RedisAddr)
	s.Lock.RedisPassword = getEnv("REDIS_PASSWORD", s.Lock.RedisPassword)
	s.Lock.RedisDB = getEnvInt("REDIS_DB", s.Lock.RedisDB)

	s.Mail.Enabled = getEnvBool("MAIL_ENABLED", s.Mail.Enabled)
	s.Mail.Host = getEnv("MAIL_HOST", s.Mail.Host)
	s.Mail.Port = getEnvInt("MAIL_PORT", s.Mail.Port)
	s.Mail.Username = getEnv("MAIL_USERNAME", s.Mail.Username)
	s.Mail.Password = getEnv("MAIL_PASSWORD", s.Mail.Password)
	s.Mail.From = getEnv("MAIL_FROM", s.Mail.From)

	s.Auth.Secret = getEnv("AUTH_SECRET", s.Auth.Secret)
	s.Auth.Issuer = getEnv("AUTH_ISSUER", s.Auth.Issuer)

	s.Log.Level = getEnv("LOG_LEVEL", s.Log.Level)
	s.Log.Format = getEnv("LOG_FORMAT", s.Log.Format)

	s.Agent.ServerURL = getEnv("AGENT_SERVER_URL", s.Agent.ServerURL)
	s.Agent.DeviceID = getEnv("AGENT_DEVICE_ID", s.Agent.DeviceID)
	s.Agent.FakeSensors = getEnvBool("AGENT_FAKE_SENSORS", s.Agent.FakeSensors)
}

// DSN builds a lib/pq style connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
