package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "mammut"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string
		SshPort   int    `yaml:"sshPort"`
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		WithAp    bool   `yaml:"withAp"`
		DbPath    string `yaml:"dbPath"`
		LogLevel  string `yaml:"logLevel"`
		// AdminKeys are authorized_keys lines allowed into the admin console.
		AdminKeys []string `yaml:"adminKeys"`
	}
	Federation struct {
		SecureMode           bool     `yaml:"secureMode"`
		PrivateMode          bool     `yaml:"privateMode"`
		BlockedHosts         []string `yaml:"blockedHosts"`
		AllowedHosts         []string `yaml:"allowedHosts"`
		SignToActivityPubGet bool     `yaml:"signToActivityPubGet"`
		DeliveryWorkers      int      `yaml:"deliveryWorkers"`
		// DeliveryPerHostRate is the number of POSTs per second sent to a single host.
		DeliveryPerHostRate float64 `yaml:"deliveryPerHostRate"`
	}
}

// ReadConf reads config.yaml from the working directory or the user
// config directory, falling back to the embedded defaults.
func ReadConf() (*AppConfig, error) {
	return ReadConfFrom(ResolveFilePath(ConfigFileName))
}

// ReadConfFrom reads the configuration at configPath and applies
// environment overrides.
func ReadConfFrom(configPath string) (*AppConfig, error) {
	c := &AppConfig{}

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Warn("Config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Warn("Could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("Created default config file", "path", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnv(c)
	applyDefaults(c)

	return c, nil
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("MAMMUT_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("MAMMUT_SSHPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Warn("Ignoring MAMMUT_SSHPORT", "err", err)
		} else {
			c.Conf.SshPort = port
		}
	}

	if v := os.Getenv("MAMMUT_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Warn("Ignoring MAMMUT_HTTPPORT", "err", err)
		} else {
			c.Conf.HttpPort = port
		}
	}

	if v := os.Getenv("MAMMUT_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if v := os.Getenv("MAMMUT_DBPATH"); v != "" {
		c.Conf.DbPath = v
	}

	if os.Getenv("MAMMUT_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}

	if os.Getenv("MAMMUT_SECURE_MODE") == "true" {
		c.Federation.SecureMode = true
	}

	if os.Getenv("MAMMUT_PRIVATE_MODE") == "true" {
		c.Federation.PrivateMode = true
	}

	if os.Getenv("MAMMUT_SIGN_AP_GET") == "true" {
		c.Federation.SignToActivityPubGet = true
	}

	if v := os.Getenv("MAMMUT_BLOCKED_HOSTS"); v != "" {
		c.Federation.BlockedHosts = splitList(v)
	}

	if v := os.Getenv("MAMMUT_ALLOWED_HOSTS"); v != "" {
		c.Federation.AllowedHosts = splitList(v)
	}

	if v := os.Getenv("MAMMUT_DELIVERY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn("Ignoring MAMMUT_DELIVERY_WORKERS", "err", err)
		} else {
			c.Federation.DeliveryWorkers = n
		}
	}
}

func applyDefaults(c *AppConfig) {
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "database.db"
	}
	if c.Federation.DeliveryWorkers <= 0 {
		c.Federation.DeliveryWorkers = 8
	}
	if c.Federation.DeliveryPerHostRate <= 0 {
		c.Federation.DeliveryPerHostRate = 5
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
