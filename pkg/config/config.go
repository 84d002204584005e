package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"
	"strconv"
	"strings"
	"syscall"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = ".rdbg"
	configDirHidden string = "rdbg"
	configFile      string = "config.yml"
	historyFile     string = "history"

	defaultMaxHistory = 500
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// HistoryFile is where the command history is kept between sessions.
	HistoryFile string `yaml:"history-file,omitempty"`
	// MaxHistory is the number of history entries that are saved.
	MaxHistory int `yaml:"max-history,omitempty"`

	// PassSignals lists the signals delivered straight back to the target
	// while continuing, by name (SIGURG) or number.
	PassSignals []string `yaml:"pass-signals,omitempty"`

	// DisableASLR turns off address space randomization for launched
	// targets. Defaults to true.
	DisableASLR *bool `yaml:"disable-aslr,omitempty"`
}

// History returns the path of the history file.
func (c *Config) History() string {
	if c.HistoryFile != "" {
		return c.HistoryFile
	}
	p, err := GetConfigFilePath(historyFile)
	if err != nil {
		return ""
	}
	return p
}

// HistoryLimit returns the maximum number of saved history entries.
func (c *Config) HistoryLimit() int {
	if c.MaxHistory > 0 {
		return c.MaxHistory
	}
	return defaultMaxHistory
}

// ASLRDisabled returns whether launched targets run without address space
// randomization.
func (c *Config) ASLRDisabled() bool {
	return c.DisableASLR == nil || *c.DisableASLR
}

// Signals parses PassSignals. A nil result means the configuration does
// not override the default set.
func (c *Config) Signals() ([]syscall.Signal, error) {
	if c.PassSignals == nil {
		return nil, nil
	}
	r := make([]syscall.Signal, 0, len(c.PassSignals))
	for _, name := range c.PassSignals {
		sig, err := parseSignal(name)
		if err != nil {
			return nil, err
		}
		r = append(r, sig)
	}
	return r, nil
}

func parseSignal(name string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		return syscall.Signal(n), nil
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := signalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q in pass-signals", name)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the rdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Where the command history is saved, defaults to the history file next
# to this one.
# history-file: /path/to/history

# Number of commands kept in the history file.
# max-history: 500

# Signals passed straight back to the target while continuing.
# pass-signals: [SIGURG, SIGCHLD, SIGWINCH]

# Uncomment the following line to run launched targets with address space
# layout randomization.
# disable-aslr: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/rdbg is used when XDG_CONFIG_HOME is set, ~/.rdbg
// otherwise.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return path.Join(configPath, configDirHidden, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
