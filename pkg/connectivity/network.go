package connectivity

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

// StaticNetwork is always associated. Used when the host manages its own link.
type StaticNetwork struct{}

func (StaticNetwork) Associated() bool                  { return true }
func (StaticNetwork) Associate(_ context.Context) error { return nil }

// LinkNetwork watches one network interface. The link counts as associated
// when the interface is up and has a non link-local unicast address.
type LinkNetwork struct {
	iface     string
	associate []string
	logger    *zap.Logger

	lookup func(name string) (linkInfo, error)
}

type linkInfo struct {
	up    bool
	addrs []net.Addr
}

// NewNetwork returns a LinkNetwork for cfg.Interface, or a StaticNetwork when
// no interface is configured.
//
// The association command may use {ssid}, {password} and {interface}
// placeholders. Without a command, a configured SSID selects nmcli.
func NewNetwork(cfg config.NetworkConfig, logger *zap.Logger) (Network, error) {
	if cfg.Interface == "" {
		return StaticNetwork{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	argv, err := associateArgv(cfg)
	if err != nil {
		return nil, err
	}
	return &LinkNetwork{
		iface:     cfg.Interface,
		associate: argv,
		logger:    logger.With(zap.String("interface", cfg.Interface), zap.String("ssid", cfg.SSID)),
		lookup:    lookupLink,
	}, nil
}

func associateArgv(cfg config.NetworkConfig) ([]string, error) {
	if cfg.AssociateCommand == "" {
		if cfg.SSID == "" {
			return nil, nil
		}
		argv := []string{"nmcli", "dev", "wifi", "connect", cfg.SSID}
		if cfg.Password != "" {
			argv = append(argv, "password", cfg.Password)
		}
		return append(argv, "ifname", cfg.Interface), nil
	}
	// split before expanding so credentials with spaces or quotes stay one argument
	argv, err := shlex.Split(cfg.AssociateCommand)
	if err != nil {
		return nil, fmt.Errorf("associate command: %w", err)
	}
	r := strings.NewReplacer(
		"{ssid}", cfg.SSID,
		"{password}", cfg.Password,
		"{interface}", cfg.Interface,
	)
	for i, a := range argv {
		argv[i] = r.Replace(a)
	}
	return argv, nil
}

func lookupLink(name string) (linkInfo, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return linkInfo{}, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return linkInfo{}, err
	}
	return linkInfo{up: ifi.Flags&net.FlagUp != 0, addrs: addrs}, nil
}

func (n *LinkNetwork) Associated() bool {
	info, err := n.lookup(n.iface)
	if err != nil {
		n.logger.Debug("interface lookup failed", zap.Error(err))
		return false
	}
	if !info.up {
		return false
	}
	for _, a := range info.addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipn.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

// Associate runs the configured association command, if any. Without one the
// operating system is expected to bring the link up on its own.
func (n *LinkNetwork) Associate(ctx context.Context) error {
	if len(n.associate) == 0 {
		return nil
	}
	n.logger.Info("running association command", zap.String("command", n.associate[0]))
	out, err := exec.CommandContext(ctx, n.associate[0], n.associate[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", n.associate[0], err, out)
	}
	return nil
}
