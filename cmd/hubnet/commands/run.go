package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/hubnet/src/hubnet"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a hubnet node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runHubnet,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runHubnet(cmd *cobra.Command, args []string) error {
	engine := hubnet.NewHubnet(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		engine.Node.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write JSON logs to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")
	cmd.Flags().Bool("hub", _config.Hub, "Run as a hub instead of a leaf")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for hubnet node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for hubnet node")
	cmd.Flags().String("transport", _config.Transport, "Stream layer, tcp or quic")
	cmd.Flags().Int("max-frame-size", _config.MaxFrameSize, "Maximum size of a message on the wire")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().StringSlice("seeds", _config.Seeds, "Addresses of hubs to connect to on startup")

	// Links
	cmd.Flags().Duration("ping", _config.PingInterval, "Time between pings on a link")
	cmd.Flags().Int("dead-link", _config.DeadLinkMultiple, "Ping intervals of silence before a link is closed")
	cmd.Flags().Duration("connect-timeout", _config.ConnectTimeout, "Connection and handshake timeout")
	cmd.Flags().Int("max-temporary", _config.MaxTemporaryConnections, "Maximum number of temporary connections")
	cmd.Flags().Duration("retry-unreachable", _config.RetryUnreachable, "Back-off before retrying an unreachable node")

	// Gossip
	cmd.Flags().Duration("lni", _config.LNIInterval, "Minimum time between node info announcements")
	cmd.Flags().Duration("lni-max", _config.LNIMaxInterval, "Maximum time between node info announcements")
	cmd.Flags().Duration("khl", _config.KHLInterval, "Minimum time between known hub list announcements")
	cmd.Flags().Duration("qht", _config.QHTInterval, "Minimum time between query hash table announcements")

	// Relays and queries
	cmd.Flags().Duration("relay-timeout", _config.RelayTimeout, "Time to wait for each hop to acknowledge")
	cmd.Flags().Duration("relay-lifetime", _config.RelayLifetime, "Time a relay keeps trying")
	cmd.Flags().Duration("query-timeout", _config.QueryTimeout, "Time a query stays outstanding")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"hubnet.DataDir":                 _config.DataDir,
		"hubnet.LogLevel":                _config.LogLevel,
		"hubnet.Moniker":                 _config.Moniker,
		"hubnet.Hub":                     _config.Hub,
		"hubnet.BindAddr":                _config.BindAddr,
		"hubnet.AdvertiseAddr":           _config.AdvertiseAddr,
		"hubnet.Transport":               _config.Transport,
		"hubnet.TCPTimeout":              _config.TCPTimeout,
		"hubnet.Seeds":                   _config.Seeds,
		"hubnet.PingInterval":            _config.PingInterval,
		"hubnet.ConnectTimeout":          _config.ConnectTimeout,
		"hubnet.MaxTemporaryConnections": _config.MaxTemporaryConnections,
		"hubnet.RelayTimeout":            _config.RelayTimeout,
		"hubnet.RelayLifetime":           _config.RelayLifetime,
		"hubnet.QueryTimeout":            _config.QueryTimeout,
		"hubnet.Store":                   _config.Store,
		"hubnet.NoService":               _config.NoService,
	}

	if _config.Store {
		logFields["hubnet.DatabaseDir"] = _config.DatabaseDir
	}

	if !_config.NoService {
		logFields["hubnet.ServiceAddr"] = _config.ServiceAddr
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/hubnet.toml (.json, .yaml also work)
	viper.SetConfigName("hubnet")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
