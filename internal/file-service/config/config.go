package config

import (
	"fmt"
	"strings"

	env "github.com/Netflix/go-env"
	log "github.com/sirupsen/logrus"
)

// Config is read from the process environment.
type Config struct {
	Port        string `env:"FILE_SERVICE_PORT,default=8080"`
	DBFile      string `env:"DB_FILE,default=file-service.db"`
	UploadDir   string `env:"UPLOAD_DIR,default=uploads"`
	MaxUploadMB int    `env:"MAX_UPLOAD_MB,default=32"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=text"`
	SQLDebug    bool   `env:"SQL_DEBUG,default=false"`
}

func Load() (*Config, error) {
	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, fmt.Errorf("can't read environment: %w", err)
	}
	if c.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	return c, nil
}

// MaxUploadBytes is the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func (c *Config) Fields() log.Fields {
	return log.Fields{
		"port":          c.Port,
		"db_file":       c.DBFile,
		"upload_dir":    c.UploadDir,
		"max_upload_mb": c.MaxUploadMB,
	}
}

// NewLogger builds the root logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() (*log.Logger, error) {
	l := log.New()
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("bad LOG_LEVEL: %w", err)
	}
	l.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		l.SetFormatter(&log.JSONFormatter{})
	}
	return l, nil
}
