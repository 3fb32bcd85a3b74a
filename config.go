package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config is the single injected configuration structure: where each table
// lives, which accounts sync, and the feed/AI credentials. There is no global
// path registry; everything that needs a path gets it from here.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	BackupDir string `yaml:"backup_dir"`
	// Optional per-table canonical file overrides, keyed by table name.
	Tables map[string]string `yaml:"tables"`

	// StartDate bounds balance reconstruction and the sync window.
	StartDate string `yaml:"start_date"`

	Feed struct {
		ClientID    string `yaml:"client_id"`
		Secret      string `yaml:"secret"`
		Environment string `yaml:"environment"`
	} `yaml:"feed"`

	Accounts map[string]AccountConfig `yaml:"accounts"`

	Prediction struct {
		Neighbors int    `yaml:"neighbors"`
		Rules     string `yaml:"rules"`
	} `yaml:"prediction"`

	AI struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"ai"`
}

// AccountConfig is one synced login. The map key is the account's short name,
// which doubles as the parent group its sub-accounts aggregate under.
type AccountConfig struct {
	AccessToken string `yaml:"access_token"`
	Enabled     bool   `yaml:"enabled"`
	Balances    bool   `yaml:"balances"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config at %v", path)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "unable to parse config at %v", path)
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
	if c.Prediction.Neighbors <= 0 {
		c.Prediction.Neighbors = defaultNeighbors
	}
	if c.StartDate != "" {
		if _, err := time.Parse(dayStamp, c.StartDate); err != nil {
			return nil, errors.Wrapf(err, "bad start_date %q", c.StartDate)
		}
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &c, nil
}

// startDate falls back to 30 days ago, matching the sync default.
func (c *Config) startDate() time.Time {
	if c.StartDate == "" {
		return day(time.Now().UTC().AddDate(0, 0, -30))
	}
	tm, _ := time.Parse(dayStamp, c.StartDate)
	return tm
}

func (c *Config) enabledAccounts() []string {
	var names []string
	for name, acct := range c.Accounts {
		if acct.Enabled {
			names = append(names, name)
		}
	}
	return names
}
