package exporter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oobmetrics/redfish-power-exporter/internal/redfish"
)

// Host is one management controller to poll. Hosts are immutable once
// built; construct them with [NewHost].
type Host struct {
	fqdn      string
	username  string
	password  string
	verifySSL bool
	chassis   []string
	group     string
}

// HostOption configures a [Host] during construction.
type HostOption func(*Host) error

// NewHost creates a [Host] for the given controller address and
// credentials.
//
// fqdn is the controller's name or address without scheme; a https://
// prefix or trailing slash is stripped. TLS verification defaults to on,
// the chassis filter to ["1"], and the group label to "none", matching
// what most single-node servers need.
func NewHost(fqdn, username, password string, opts ...HostOption) (Host, error) {
	fqdn = strings.TrimSuffix(strings.TrimPrefix(fqdn, "https://"), "/")
	if fqdn == "" {
		return Host{}, errors.New("host fqdn is required")
	}
	if username == "" || password == "" {
		return Host{}, fmt.Errorf("host %s: credentials are required", fqdn)
	}

	h := Host{
		fqdn:      fqdn,
		username:  username,
		password:  password,
		verifySSL: true,
		chassis:   []string{"1"},
		group:     "none",
	}
	for _, opt := range opts {
		if err := opt(&h); err != nil {
			return Host{}, err
		}
	}
	return h, nil
}

// WithChassis restricts polling to the given chassis IDs. An empty list
// polls every chassis member the controller reports.
func WithChassis(ids ...string) HostOption {
	return func(h *Host) error {
		h.chassis = append([]string(nil), ids...)
		return nil
	}
}

// WithGroup sets the operator-assigned group label carried on every
// metric for this host.
func WithGroup(group string) HostOption {
	return func(h *Host) error {
		if group == "" {
			return fmt.Errorf("host %s: group must not be empty", h.fqdn)
		}
		h.group = group
		return nil
	}
}

// WithInsecureTLS disables TLS certificate verification for this host.
// Management controllers commonly ship self-signed certificates.
func WithInsecureTLS() HostOption {
	return func(h *Host) error {
		h.verifySSL = false
		return nil
	}
}

// FQDN returns the controller address this host polls.
func (h Host) FQDN() string {
	return h.fqdn
}

// Group returns the host's group label.
func (h Host) Group() string {
	return h.group
}

// target converts the public Host to the internal polling target.
func (h Host) target() redfish.Target {
	return redfish.Target{
		FQDN:      h.fqdn,
		Username:  h.username,
		Password:  h.password,
		VerifySSL: h.verifySSL,
		Chassis:   append([]string(nil), h.chassis...),
		Group:     h.group,
	}
}
