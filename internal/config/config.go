package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/axonops/cql-control/internal/logger"
)

// Config holds the control channel configuration
type Config struct {
	ContactPoints     []string   `json:"contactPoints" yaml:"contactPoints"`
	Port              int        `json:"port" yaml:"port"`
	Username          string     `json:"username" yaml:"username"`
	Password          string     `json:"password" yaml:"password"`
	ProtocolVersion   int        `json:"protocolVersion,omitempty" yaml:"protocolVersion,omitempty"` // 0 selects the highest supported version
	UseSchema         bool       `json:"useSchema" yaml:"useSchema"`                                 // Maintain schema metadata
	TokenAwareRouting bool       `json:"tokenAwareRouting" yaml:"tokenAwareRouting"`                 // Read partitioner/tokens for the token map
	ConnectTimeout    int        `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`   // Connection timeout in seconds
	RequestTimeout    int        `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`   // Per-request timeout in seconds
	ReconnectWaitMs   int        `json:"reconnectWaitMs,omitempty" yaml:"reconnectWaitMs,omitempty"` // Delay before a reconnect attempt
	Debug             bool       `json:"debug,omitempty" yaml:"debug,omitempty"`                     // Enable debug logging
	SSL               *SSLConfig `json:"ssl,omitempty" yaml:"ssl,omitempty"`
}

// SSLConfig holds SSL/TLS configuration options
type SSLConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	CertPath           string `json:"certPath,omitempty" yaml:"certPath,omitempty"`
	KeyPath            string `json:"keyPath,omitempty" yaml:"keyPath,omitempty"`
	CAPath             string `json:"caPath,omitempty" yaml:"caPath,omitempty"`
	HostVerification   bool   `json:"hostVerification,omitempty" yaml:"hostVerification,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	ServerName         string `json:"serverName,omitempty" yaml:"serverName,omitempty"`
}

// Default returns the built-in defaults: localhost contact point, schema
// metadata on, token awareness off.
func Default() *Config {
	return &Config{
		ContactPoints:   []string{"127.0.0.1"},
		Port:            9042,
		UseSchema:       true,
		ConnectTimeout:  10,
		RequestTimeout:  10,
		ReconnectWaitMs: 1000,
	}
}

// Load loads configuration from file and environment variables.
// If customConfigPath is provided and not empty, it will be used instead of
// the default locations. Layering order: defaults, then cqlshrc, then
// JSON/YAML config file, then environment variables.
func Load(customConfigPath ...string) (*Config, error) {
	config := Default()

	// First, try to load a CQLSHRC file for connection settings
	cqlshrcPaths := []string{
		filepath.Join(os.Getenv("HOME"), ".cassandra", "cqlshrc"),
		filepath.Join(os.Getenv("HOME"), ".cqlshrc"),
	}
	for _, path := range cqlshrcPaths {
		if err := loadCQLSHRC(path, config); err == nil {
			logger.DebugfToFile("Config", "Loaded cqlshrc from %s", path)
			break
		}
	}

	// Then check config file locations (these override CQLSHRC settings)
	var configPaths []string
	if len(customConfigPath) > 0 && customConfigPath[0] != "" {
		configPaths = []string{customConfigPath[0]}
	} else {
		configPaths = []string{
			"cqlcontrol.json",
			"cqlcontrol.yaml",
			filepath.Join(os.Getenv("HOME"), ".cqlcontrol.json"),
			filepath.Join(os.Getenv("HOME"), ".cqlcontrol.yaml"),
			filepath.Join(os.Getenv("HOME"), ".config", "cqlcontrol", "config.json"),
		}
	}

	var foundPath string
	var configData []byte
	for _, path := range configPaths {
		data, err := os.ReadFile(path) // #nosec G304 - Config file path is validated
		if err == nil {
			foundPath = path
			configData = data
			break
		}
	}

	if len(customConfigPath) > 0 && customConfigPath[0] != "" && foundPath == "" {
		return nil, fmt.Errorf("config file not found: %s", customConfigPath[0])
	}

	if foundPath != "" {
		if err := unmarshalConfig(foundPath, configData, config); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", foundPath, err)
		}
	}

	OverrideWithEnvVars(config)

	if len(config.ContactPoints) == 0 {
		return nil, fmt.Errorf("no contact points configured")
	}

	logger.DebugfToFile("Config", "Final config: contactPoints=%v, port=%d, useSchema=%v, tokenAware=%v",
		config.ContactPoints, config.Port, config.UseSchema, config.TokenAwareRouting)

	return config, nil
}

// unmarshalConfig decodes JSON or YAML based on the file extension. YAML
// support mirrors what our storage deployments already use for node config.
func unmarshalConfig(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

// OverrideWithEnvVars overrides configuration with environment variables
func OverrideWithEnvVars(config *Config) {
	if hosts := os.Getenv("CASSANDRA_CONTACT_POINTS"); hosts != "" {
		config.ContactPoints = splitContactPoints(hosts)
	}
	if hosts := os.Getenv("CQLCONTROL_CONTACT_POINTS"); hosts != "" {
		config.ContactPoints = splitContactPoints(hosts)
	}

	if port := os.Getenv("CASSANDRA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if port := os.Getenv("CQLCONTROL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}

	if username := os.Getenv("CASSANDRA_USERNAME"); username != "" {
		config.Username = username
	}
	if password := os.Getenv("CASSANDRA_PASSWORD"); password != "" {
		config.Password = password
	}

	if v := os.Getenv("CQLCONTROL_PROTOCOL_VERSION"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			config.ProtocolVersion = p
		}
	}
	if v := os.Getenv("CQLCONTROL_USE_SCHEMA"); v != "" {
		config.UseSchema = v == "true" || v == "1"
	}
	if v := os.Getenv("CQLCONTROL_TOKEN_AWARE"); v != "" {
		config.TokenAwareRouting = v == "true" || v == "1"
	}
	if v := os.Getenv("CQLCONTROL_DEBUG"); v != "" {
		config.Debug = v == "true" || v == "1"
	}
}

func splitContactPoints(s string) []string {
	var points []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			points = append(points, p)
		}
	}
	return points
}

// loadCQLSHRC loads connection settings from a CQLSHRC file
func loadCQLSHRC(path string, config *Config) error {
	file, err := os.Open(path) // #nosec G304 - Config file path is validated
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	currentSection := ""
	var credentialsPath string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.ToLower(strings.Trim(line, "[]"))
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := unquote(strings.TrimSpace(parts[1]))

		switch currentSection {
		case "connection":
			switch key {
			case "hostname":
				config.ContactPoints = []string{value}
			case "port":
				if port, err := strconv.Atoi(value); err == nil {
					config.Port = port
				}
			case "ssl":
				if value == "true" || value == "1" {
					if config.SSL == nil {
						config.SSL = &SSLConfig{}
					}
					config.SSL.Enabled = true
				}
			}
		case "authentication", "auth_provider":
			switch key {
			case "credentials":
				credentialsPath = value
			case "username":
				config.Username = value
			case "password":
				config.Password = value
			}
		case "ssl":
			if config.SSL == nil {
				config.SSL = &SSLConfig{}
			}
			config.SSL.Enabled = true
			switch key {
			case "certfile":
				config.SSL.CAPath = expandHome(value)
			case "userkey":
				config.SSL.KeyPath = expandHome(value)
			case "usercert":
				config.SSL.CertPath = expandHome(value)
			case "validate":
				if value == "false" || value == "0" {
					config.SSL.InsecureSkipVerify = true
					config.SSL.HostVerification = false
				} else {
					config.SSL.HostVerification = true
				}
			}
		}
	}

	if credentialsPath != "" {
		if err := loadCredentialsFile(credentialsPath, config); err != nil {
			logger.DebugfToFile("Config", "Failed to load credentials file: %v", err)
		}
	}

	return scanner.Err()
}

// loadCredentialsFile loads username/password from a credentials file.
// The format is:
//
//	[auth_provider_classname]
//	username = user
//	password = pass
func loadCredentialsFile(path string, config *Config) error {
	file, err := os.Open(expandHome(path)) // #nosec G304 - Config file path is validated
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	inAuthSection := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.ToLower(strings.Trim(line, "[]"))
			inAuthSection = strings.Contains(section, "auth")
			continue
		}
		if !inAuthSection {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		switch strings.TrimSpace(parts[0]) {
		case "username":
			config.Username = unquote(strings.TrimSpace(parts[1]))
		case "password":
			config.Password = unquote(strings.TrimSpace(parts[1]))
		}
	}

	return scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
		(value[0] == '\'' && value[len(value)-1] == '\'')) {
		return value[1 : len(value)-1]
	}
	return value
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		return filepath.Join(os.Getenv("HOME"), path[1:])
	}
	return path
}
