// Package config loads and hot-reloads aetherlinkd's configuration: listener
// toggles and ports, TLS/SSH key material, the shared backend secret, the
// soft-boot command line, and MSSP metadata overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/stlalpha/aetherlink/internal/telnet"
)

// fileShape mirrors the on-disk JSON config file. Config itself keeps the
// reloadable fields (secret, MSSP) behind a mutex, so it is not unmarshalled
// into directly.
type fileShape struct {
	Debug bool `json:"debug"`

	TelnetEnabled    bool `json:"telnet_enabled"`
	TelnetTLSEnabled bool `json:"telnet_tls_enabled"`
	SSHEnabled       bool `json:"ssh_enabled"`

	TelnetPort    int `json:"telnet_port"`
	TelnetTLSPort int `json:"telnet_tls_port"`
	SSHPort       int `json:"ssh_port"`
	BackendPort   int `json:"backend_port"`

	TLSCertPath string `json:"tls_cert_path"`
	TLSKeyPath  string `json:"tls_key_path"`

	SSHHostKeyPath       string `json:"ssh_host_key_path"`
	SSHHostKeyPassphrase string `json:"ssh_host_key_passphrase"`
	SSHLegacyAlgorithms  bool   `json:"ssh_legacy_algorithms"`

	Secret          string            `json:"secret"`
	SoftbootCommand []string          `json:"softboot_command"`
	MSSP            telnet.MSSPValues `json:"mssp"`
}

// Config is the process configuration, loaded from JSON and overridable by
// CLI flags. Listener toggles, ports, and key paths take effect only at
// next startup; Secret and MSSP are read through accessor methods so a
// file reload (see Watcher) can swap them in on a running server without a
// restart.
type Config struct {
	Debug bool

	TelnetEnabled    bool
	TelnetTLSEnabled bool
	SSHEnabled       bool

	TelnetPort    int
	TelnetTLSPort int
	SSHPort       int
	BackendPort   int

	TLSCertPath string
	TLSKeyPath  string

	SSHHostKeyPath       string
	SSHHostKeyPassphrase string
	SSHLegacyAlgorithms  bool

	SoftbootCommand []string

	mu     sync.RWMutex
	secret string
	mssp   telnet.MSSPValues
}

// Load reads and parses a JSON config file at path. Omitted ports default
// to 4000 (Telnet), 4002 (Telnet-TLS), 4001 (SSH) and 8989 (backend), and
// an MSSP block without a name is replaced by DefaultMSSPValues. Every
// other omitted field keeps its zero value; in particular an omitted
// listener toggle reads as false, so that listener stays disabled.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fs fileShape
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c := fromFileShape(fs)
	c.applyDefaults()
	return c, nil
}

func fromFileShape(fs fileShape) *Config {
	return &Config{
		Debug:                fs.Debug,
		TelnetEnabled:        fs.TelnetEnabled,
		TelnetTLSEnabled:     fs.TelnetTLSEnabled,
		SSHEnabled:           fs.SSHEnabled,
		TelnetPort:           fs.TelnetPort,
		TelnetTLSPort:        fs.TelnetTLSPort,
		SSHPort:              fs.SSHPort,
		BackendPort:          fs.BackendPort,
		TLSCertPath:          fs.TLSCertPath,
		TLSKeyPath:           fs.TLSKeyPath,
		SSHHostKeyPath:       fs.SSHHostKeyPath,
		SSHHostKeyPassphrase: fs.SSHHostKeyPassphrase,
		SSHLegacyAlgorithms:  fs.SSHLegacyAlgorithms,
		SoftbootCommand:      fs.SoftbootCommand,
		secret:               fs.Secret,
		mssp:                 fs.MSSP,
	}
}

func (c *Config) applyDefaults() {
	if c.TelnetPort == 0 {
		c.TelnetPort = 4000
	}
	if c.TelnetTLSPort == 0 {
		c.TelnetTLSPort = 4002
	}
	if c.SSHPort == 0 {
		c.SSHPort = 4001
	}
	if c.BackendPort == 0 {
		c.BackendPort = 8989
	}
	if c.mssp.Name == "" {
		c.mssp = telnet.DefaultMSSPValues()
	}
}

// Secret returns the current shared backend WebSocket secret. Implements
// backend.SecretSource.
func (c *Config) Secret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secret
}

// SetSecret updates the shared secret, picked up by the next frame the
// backend link validates.
func (c *Config) SetSecret(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret = secret
}

// MSSP returns the current MSSP metadata served on Telnet negotiation.
func (c *Config) MSSP() telnet.MSSPValues {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mssp
}

// SetMSSP updates the MSSP metadata served to newly negotiating clients.
func (c *Config) SetMSSP(v telnet.MSSPValues) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mssp = v
}

// reload re-reads path and swaps in its secret and MSSP fields, leaving
// listener/port/key settings (which require a restart) untouched.
func (c *Config) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fs fileShape
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if fs.MSSP.Name == "" {
		fs.MSSP = telnet.DefaultMSSPValues()
	}

	c.mu.Lock()
	c.secret = fs.Secret
	c.mssp = fs.MSSP
	c.mu.Unlock()
	return nil
}
