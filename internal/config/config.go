package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"unicode"

	"github.com/spf13/viper"
)

const badgerDb = "badger"

type Config struct {
	Datadir    string `mapstructure:"DATADIR" envDefault:"lampo" envInfo:"Data directory for lampo state"`
	DbType     string `mapstructure:"DB_TYPE" envDefault:"badger" envInfo:"Database backend: badger"`
	LogLevel   uint32 `mapstructure:"LOG_LEVEL" envDefault:"4" envInfo:"Log verbosity (higher = more verbose)"`
	ArkServer  string `mapstructure:"ARK_SERVER" envDefault:"" envInfo:"Ark server address (e.g., arkd:7070)"`
	EsploraURL string `mapstructure:"ESPLORA_URL" envDefault:"" envInfo:"Esplora base URL (e.g., http://chopsticks:3000)"`

	// Optional, takes precedence over EsploraURL for block height polling.
	ElectrumURL string `mapstructure:"ELECTRUM_URL" envDefault:"" envInfo:"Electrum server address for block height polling (e.g., blockstream.info:700)"`
	BoltzURL   string `mapstructure:"BOLTZ_URL" envDefault:"" envInfo:"Boltz HTTP endpoint (e.g., http://boltz:9001)"`
	BoltzWSURL string `mapstructure:"BOLTZ_WS_URL" envDefault:"" envInfo:"Boltz WebSocket endpoint (e.g., ws://boltz:9002)"`

	SwapTimeout     uint32 `mapstructure:"SWAP_TIMEOUT" envDefault:"120" envInfo:"Swap timeout in seconds"`
	RefreshInterval uint32 `mapstructure:"REFRESH_INTERVAL" envDefault:"300" envInfo:"Swap status refresh interval in seconds"`
	BlockPollDelay  uint32 `mapstructure:"BLOCK_POLL_DELAY" envDefault:"30" envInfo:"Block height poll interval in seconds"`

	PrivateKey string `mapstructure:"PRIVATE_KEY" envDefault:"" envInfo:"Hex-encoded wallet private key"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("LAMPO")
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := config.initDatadir(); err != nil {
		return nil, fmt.Errorf("error initializing data directory: %w", err)
	}

	return &config, nil
}

func (c *Config) initDatadir() error {
	if c.DbType != badgerDb {
		return fmt.Errorf("unsupported db type: %s", c.DbType)
	}

	if c.Datadir == "lampo" {
		c.Datadir = appDatadir("lampo", false)
	} else {
		c.Datadir = cleanAndExpandPath(c.Datadir)
	}

	return makeDirectoryIfNotExists(c.Datadir)
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		def := f.Tag.Get("envDefault")
		if def != "" {
			v.SetDefault(key, def)
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// appDatadir returns an operating system specific directory to be used for
// storing application data for an application.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library", "Application Support", appNameUpper)
		}

	case "plan9":
		if homeDir != "" {
			return filepath.Join(homeDir, appNameLower)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	// Fall back to the current directory if all else fails.
	return "."
}
