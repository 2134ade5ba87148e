// Package provision decides whether the device has a usable network before
// the voice session starts, and handles the boot-time credential reset.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/lisuiheng/voicebridge/storage"
)

const (
	KeyLastProvisioned = "last_provisioned"

	DefaultPortalTimeout = 180 * time.Second
	DefaultPollInterval  = time.Second
)

// ErrResetRequested is returned when the user asked for stored credentials
// to be erased; the process should exit so its supervisor restarts it.
var ErrResetRequested = errors.New("provisioning reset requested")

// Provisioner reports whether the network is usable, entering configuration
// mode and waiting when it is not.
type Provisioner interface {
	Ensure(ctx context.Context) (bool, error)
}

// LinkCheck reports whether the network is currently usable.
type LinkCheck func() (bool, error)

// InterfaceUp checks that the named interface, or any non-loopback interface
// when name is empty, is up and has a unicast address.
func InterfaceUp(name string) LinkCheck {
	return func() (bool, error) {
		ifaces, err := net.Interfaces()
		if err != nil {
			return false, fmt.Errorf("list interfaces: %w", err)
		}
		for _, iface := range ifaces {
			if name != "" && iface.Name != name {
				continue
			}
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, a := range addrs {
				if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
					return true, nil
				}
			}
		}
		return false, nil
	}
}

type Config struct {
	// Interface restricts the probe to one interface.
	Interface     string
	PortalTimeout time.Duration
	PollInterval  time.Duration
}

var _ Provisioner = (*Probe)(nil)

// Probe waits for the operating system to bring the network up. While it
// waits the device is in configuration mode and onConfigMode is told so.
type Probe struct {
	config       Config
	check        LinkCheck
	store        storage.Store
	onConfigMode func(active bool)
	logger       *slog.Logger
	now          func() time.Time
}

func NewProbe(cfg Config, check LinkCheck, store storage.Store, onConfigMode func(bool), logger *slog.Logger) *Probe {
	if cfg.PortalTimeout <= 0 {
		cfg.PortalTimeout = DefaultPortalTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if check == nil {
		check = InterfaceUp(cfg.Interface)
	}
	if onConfigMode == nil {
		onConfigMode = func(bool) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		config:       cfg,
		check:        check,
		store:        store,
		onConfigMode: onConfigMode,
		logger:       logger,
		now:          time.Now,
	}
}

// Ensure returns true as soon as the link is usable. Otherwise it enters
// configuration mode and polls until the link comes up, the portal timeout
// elapses (false, nil) or ctx ends.
func (p *Probe) Ensure(ctx context.Context) (bool, error) {
	if ok, err := p.check(); err == nil && ok {
		p.logger.Info("Network available")
		return true, nil
	} else if err != nil {
		p.logger.Warn("Network probe failed", "error", err)
	}

	p.logger.Info("Entering configuration mode", "timeout", p.config.PortalTimeout)
	p.onConfigMode(true)
	defer p.onConfigMode(false)

	deadline := time.NewTimer(p.config.PortalTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			p.logger.Warn("Configuration portal timed out")
			return false, nil
		case <-ticker.C:
			ok, err := p.check()
			if err != nil {
				p.logger.Debug("Network probe failed", "error", err)
				continue
			}
			if !ok {
				continue
			}
			p.logger.Info("Network provisioned")
			if p.store != nil {
				stamp := strconv.FormatInt(p.now().UnixMilli(), 10)
				if err := p.store.Put(KeyLastProvisioned, stamp); err != nil {
					p.logger.Warn("Failed to record provisioning time", "error", err)
				}
			}
			return true, nil
		}
	}
}
