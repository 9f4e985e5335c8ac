package hubnet

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/mosaicnetworks/hubnet/src/config"
	"github.com/mosaicnetworks/hubnet/src/crypto/keys"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/node"
	"github.com/mosaicnetworks/hubnet/src/service"
	"github.com/mosaicnetworks/hubnet/src/store"
)

// Hubnet assembles a node with its key, store, transport and HTTP service.
type Hubnet struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Service   *service.Service
}

// NewHubnet ...
func NewHubnet(config *config.Config) *Hubnet {
	engine := &Hubnet{
		Config: config,
	}

	return engine
}

func (h *Hubnet) initTransport() error {
	logger := h.Config.Logger().WithField("component", "transport")

	var (
		transport net.Transport
		err       error
	)

	switch h.Config.Transport {
	case config.TCPTransport:
		transport, err = net.NewTCPTransport(
			h.Config.BindAddr,
			h.Config.AdvertiseAddr,
			h.Config.MaxFrameSize,
			h.Config.TCPTimeout,
			logger,
		)
	case config.QUICTransport:
		transport, err = net.NewQUICTransport(
			h.Config.BindAddr,
			h.Config.AdvertiseAddr,
			h.Config.MaxFrameSize,
			h.Config.TCPTimeout,
			logger,
		)
	default:
		err = fmt.Errorf("Unknown transport %q", h.Config.Transport)
	}

	if err != nil {
		return err
	}

	h.Transport = transport

	return nil
}

func (h *Hubnet) initStore() error {
	if !h.Config.Store {
		h.Store = store.NewInmemStore()

		h.Config.Logger().Debug("created new in-mem store")

		return nil
	}

	h.Config.Logger().WithField("path", h.Config.DatabaseDir).Debug("Attempting to load or create database")

	st, err := store.NewBadgerStore(h.Config.DatabaseDir,
		h.Config.Logger().WithField("component", "badger"))
	if err != nil {
		return err
	}

	h.Store = st

	return nil
}

// initKey reads the keyfile if there is one. Otherwise Config.Key stays nil and
// the node reuses, or generates, the key kept in its store.
func (h *Hubnet) initKey() error {
	if h.Config.Key != nil {
		return nil
	}

	if _, err := os.Stat(h.Config.Keyfile()); os.IsNotExist(err) {
		h.Config.Logger().Debug("No keyfile, using the stored identity")
		return nil
	}

	privKey, err := keys.NewSimpleKeyfile(h.Config.Keyfile()).ReadKey()
	if err != nil {
		return err
	}

	h.Config.Key = privKey

	return nil
}

func (h *Hubnet) initNode() error {
	identity, err := node.LoadIdentity(h.Store, h.Config.Key, h.Config.Moniker)
	if err != nil {
		return err
	}

	h.Config.Logger().WithField("guid", identity.GUID).Debug("IDENTITY")

	h.Node = node.NewNode(h.Config, identity, h.Store, h.Transport)

	if err := h.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (h *Hubnet) initService() error {
	if !h.Config.NoService {
		h.Service = service.NewService(h.Config.ServiceAddr, h.Node,
			h.Config.Logger().WithField("component", "service"))
	}
	return nil
}

// Init ...
func (h *Hubnet) Init() error {
	if err := h.initKey(); err != nil {
		return err
	}

	if err := h.initStore(); err != nil {
		return err
	}

	if err := h.initTransport(); err != nil {
		h.Store.Close()
		return err
	}

	if err := h.initNode(); err != nil {
		return err
	}

	if err := h.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service and blocks until the node shuts down.
func (h *Hubnet) Run() {
	if h.Service != nil {
		go h.Service.Serve()
	}

	h.Node.Run()
}

// Keygen creates a new key and writes it to the keyfile in datadir.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	conf := config.NewDefaultConfig()
	conf.DataDir = datadir

	keyfile := keys.NewSimpleKeyfile(conf.Keyfile())

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("Another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
