package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Uploads struct {
		Dir string `yaml:"dir"`
	} `yaml:"uploads"`

	Engine Engine `yaml:"engine"`
}

// Engine holds the tuning parameters of the detection pipeline.
// These are empirically tuned defaults, not invariants.
type Engine struct {
	Seed      int64 `yaml:"seed"`
	BatchSize int   `yaml:"batchSize"`

	Spectral struct {
		Components   int     `yaml:"components"`
		K            float64 `yaml:"k"` // flag above mean + k*stddev per class
		MinClassSize int     `yaml:"minClassSize"`
	} `yaml:"spectral"`

	Clustering struct {
		MinorityFraction float64 `yaml:"minorityFraction"`
		// Eps is a multiplier over the median k-th nearest-neighbor
		// distance, not an absolute radius.
		Eps        float64 `yaml:"eps"`
		MinSamples int     `yaml:"minSamples"`
	} `yaml:"clustering"`

	Influence struct {
		Damping       float64 `yaml:"damping"`
		MaxIterations int     `yaml:"maxIterations"`
		Tolerance     float64 `yaml:"tolerance"`
		BatchSize     int     `yaml:"batchSize"`
		TailZ         float64 `yaml:"tailZ"`
	} `yaml:"influence"`

	Image struct {
		Size      int `yaml:"size"`      // images are resampled to size x size
		EmbedDims int `yaml:"embedDims"` // output width of the frozen backbone
	} `yaml:"image"`
}

// Load reads the YAML config file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with working engine defaults so a partial
// YAML file still produces a usable pipeline.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Database.Driver = "mysql"
	cfg.Uploads.Dir = "uploads"
	cfg.Engine = DefaultEngine()
	return cfg
}

func DefaultEngine() Engine {
	var e Engine
	e.Seed = 42
	e.BatchSize = 64
	e.Spectral.Components = 2
	e.Spectral.K = 2.0
	e.Spectral.MinClassSize = 2
	e.Clustering.MinorityFraction = 0.15
	e.Clustering.Eps = 2.0
	e.Clustering.MinSamples = 5
	e.Influence.Damping = 0.01
	e.Influence.MaxIterations = 50
	e.Influence.Tolerance = 1e-4
	e.Influence.BatchSize = 32
	e.Influence.TailZ = 3.5
	e.Image.Size = 64
	e.Image.EmbedDims = 256
	return e
}

// MySQLDSN builds the MySQL connection string.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the Postgres connection string for lib/pq.
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}
