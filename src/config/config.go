package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultSeedFile is the default name of the JSON file listing the hubs to
	// contact on startup.
	DefaultSeedFile = "peers.json"
)

// Transports understood by the node.
const (
	TCPTransport  = "tcp"
	QUICTransport = "quic"
)

// Default configuration values.
const (
	DefaultLogLevel                = "debug"
	DefaultBindAddr                = "127.0.0.1:1338"
	DefaultServiceAddr             = "127.0.0.1:8010"
	DefaultTransport               = TCPTransport
	DefaultHub                     = false
	DefaultMaxFrameSize            = 4 * 1024 * 1024
	DefaultTCPTimeout              = 1000 * time.Millisecond
	DefaultPingInterval            = 90 * time.Second
	DefaultDeadLinkMultiple        = 3
	DefaultLNIInterval             = 90 * time.Second
	DefaultLNIMaxInterval          = 360 * time.Second
	DefaultKHLInterval             = 180 * time.Second
	DefaultQHTInterval             = 120 * time.Second
	DefaultConnectTimeout          = 60 * time.Second
	DefaultRelayTimeout            = 1 * time.Second
	DefaultRelayLifetime           = 30 * time.Second
	DefaultQueryTimeout            = 30 * time.Second
	DefaultMaxTemporaryConnections = 20
	DefaultRetryUnreachable        = 5 * time.Minute
	DefaultStore                   = false
)

// Config contains all the configuration properties of a hubnet node.
type Config struct {
	// DataDir is the top-level directory containing hubnet configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry in JSON.
	LogFile string `mapstructure:"log-file"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Hub makes the node operate as a hub: it accepts leaves and relays on
	// behalf of others. Otherwise the node is a leaf.
	Hub bool `mapstructure:"hub"`

	// BindAddr is the local address:port where this node accepts connections
	// from other nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Transport selects the stream layer, tcp or quic.
	Transport string `mapstructure:"transport"`

	// MaxFrameSize bounds the size of a single message on the wire.
	MaxFrameSize int `mapstructure:"max-frame-size"`

	// TCPTimeout is the timeout for dialling and writing on the stream layer.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// PingInterval is the period of the heartbeat on every link.
	PingInterval time.Duration `mapstructure:"ping"`

	// DeadLinkMultiple is the number of ping intervals without traffic after
	// which a link is considered dead.
	DeadLinkMultiple int `mapstructure:"dead-link"`

	// LNIInterval throttles announcements of the local node info.
	LNIInterval time.Duration `mapstructure:"lni"`

	// LNIMaxInterval is the longest the node goes without announcing itself.
	LNIMaxInterval time.Duration `mapstructure:"lni-max"`

	// KHLInterval throttles known-hub list gossip.
	KHLInterval time.Duration `mapstructure:"khl"`

	// QHTInterval throttles query hash table gossip.
	QHTInterval time.Duration `mapstructure:"qht"`

	// ConnectTimeout bounds a connection attempt, handshake included.
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`

	// RelayTimeout is how long relays and queries wait for each hop to
	// acknowledge.
	RelayTimeout time.Duration `mapstructure:"relay-timeout"`

	// RelayLifetime is how long a relay keeps trying before giving up.
	RelayLifetime time.Duration `mapstructure:"relay-lifetime"`

	// QueryTimeout is how long a query stays outstanding.
	QueryTimeout time.Duration `mapstructure:"query-timeout"`

	// MaxTemporaryConnections bounds the temporary pool.
	MaxTemporaryConnections int `mapstructure:"max-temporary"`

	// RetryUnreachable is the back-off before retrying a node that could not
	// be reached.
	RetryUnreachable time.Duration `mapstructure:"retry-unreachable"`

	// Seeds are addresses of hubs to connect to on startup, on top of those
	// listed in peers.json.
	Seeds []string `mapstructure:"seeds"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:                 DefaultDataDir(),
		LogLevel:                DefaultLogLevel,
		Hub:                     DefaultHub,
		BindAddr:                DefaultBindAddr,
		ServiceAddr:             DefaultServiceAddr,
		Transport:               DefaultTransport,
		MaxFrameSize:            DefaultMaxFrameSize,
		TCPTimeout:              DefaultTCPTimeout,
		PingInterval:            DefaultPingInterval,
		DeadLinkMultiple:        DefaultDeadLinkMultiple,
		LNIInterval:             DefaultLNIInterval,
		LNIMaxInterval:          DefaultLNIMaxInterval,
		KHLInterval:             DefaultKHLInterval,
		QHTInterval:             DefaultQHTInterval,
		ConnectTimeout:          DefaultConnectTimeout,
		RelayTimeout:            DefaultRelayTimeout,
		RelayLifetime:           DefaultRelayLifetime,
		QueryTimeout:            DefaultQueryTimeout,
		MaxTemporaryConnections: DefaultMaxTemporaryConnections,
		RetryUnreachable:        DefaultRetryUnreachable,
		Store:                   DefaultStore,
		DatabaseDir:             DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. Gossip intervals are shortened so that
// multi-node tests converge quickly.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.PingInterval = 200 * time.Millisecond
	config.LNIInterval = 20 * time.Millisecond
	config.LNIMaxInterval = time.Second
	config.KHLInterval = 20 * time.Millisecond
	config.QHTInterval = 20 * time.Millisecond
	config.ConnectTimeout = 2 * time.Second
	config.RelayTimeout = 500 * time.Millisecond
	config.RelayLifetime = 3 * time.Second
	config.QueryTimeout = 2 * time.Second
	config.RetryUnreachable = time.Second
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level hubnet directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// SeedFile returns the full path of the JSON file listing seed hubs.
func (c *Config) SeedFile() string {
	return filepath.Join(c.DataDir, DefaultSeedFile)
}

// DeadLinkTimeout is the silence after which a link is closed.
func (c *Config) DeadLinkTimeout() time.Duration {
	return time.Duration(c.DeadLinkMultiple) * c.PingInterval
}

// Logger returns a formatted logrus Entry, with prefix set to "hubnet".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(c.LogFile, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "hubnet")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level hubnet config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Hubnet")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Hubnet")
		} else {
			return filepath.Join(home, ".hubnet")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
