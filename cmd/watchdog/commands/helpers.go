package commands

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/n6x/watchdog/internal/config"
	"github.com/n6x/watchdog/internal/logger"
	"github.com/n6x/watchdog/internal/peer"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	listenFlagDesc = `Address to accept peer connections on. Accepted formats:
  - :7117
  - 127.0.0.1:7117
  - [::1]:7117
	`
	logFileName = ".watchdog.log"
)

var validate = validator.New()
var ErrInvalidAddress = errors.New("invalid address provided")

// validateListenAddress validates a listen address: an optional host followed by a port.
func validateListenAddress(addr string) error {
	// IPv4 or domain or localhost and a port. Or just a shorthand port (:1234).
	if err := validate.Var(addr, "hostname_port"); err == nil {
		return nil
	}

	// Also validate IPv6 host + port combination. The hostname_port validator does not validate this.
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ErrInvalidAddress
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return ErrInvalidAddress
	}
	if host != "" && validate.Var(host, "ip") != nil {
		return ErrInvalidAddress
	}
	return nil
}

// setupLogging logs debug output to a file when verbose, otherwise warnings
// and above go to stderr.
func setupLogging(verbose bool) (*zap.Logger, error) {
	if verbose {
		l, err := logger.ToFile(logFileName, true)
		if err != nil {
			return nil, fmt.Errorf("could not log to the provided file: %w", err)
		}
		return l, nil
	}
	return logger.New(false).WithOptions(zap.IncreaseLevel(zap.WarnLevel)), nil
}

// ensureID returns the configured peer id, minting and persisting one on
// first use.
func ensureID(cfg config.Config) (peer.ID, error) {
	if cfg.ID != "" {
		return peer.FromString(cfg.ID)
	}
	id := peer.New()
	viper.Set("id", id.String())
	if err := viper.WriteConfig(); err != nil {
		return peer.ID{}, fmt.Errorf("saving generated id: %w", err)
	}
	return id, nil
}
