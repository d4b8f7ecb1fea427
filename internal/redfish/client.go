// Package redfish implements the transactional client side of the
// exporter: one authenticated request/response exchange per resource
// against a host's Redfish API, assembled into a per-poll [Report].
//
// The client is stateless across calls except for what the caller passes
// in via [Session] (detected vendor, cached HPE session token). It never
// retries; retry policy is layered on top by the poller.
package redfish

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when polling
// many controllers; BMCs cope badly with connection floods
const (
	defaultMaxIdleConns        = 50
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 5
	defaultIdleConnTimeout     = 60 * time.Second
)

const (
	serviceRootPath = "/redfish/v1/"
	sessionsPath    = "/redfish/v1/SessionService/Sessions"
	systemsPath     = "/redfish/v1/Systems"
)

// Client performs Redfish API exchanges against management controllers.
//
// One Client is shared by all hosts. It keeps two underlying HTTP
// clients, one verifying TLS certificates and one not, and picks per
// request based on the target's VerifySSL setting. Timeouts are applied
// per call via the context, not as a global client timeout, so the
// scheduler stays in control of each host's budget.
type Client struct {
	verifying      *http.Client
	insecure       *http.Client
	logger         *slog.Logger
	warnDeprecated bool
}

// NewClient creates a Redfish [Client].
//
// When warnDeprecated is true, hosts still exposing the pre-2020 Power
// resource are called out in the log on every poll.
func NewClient(logger *slog.Logger, warnDeprecated bool) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		verifying:      &http.Client{Transport: newTransport(false)},
		insecure:       &http.Client{Transport: newTransport(true)},
		logger:         logger,
		warnDeprecated: warnDeprecated,
	}
}

func newTransport(skipVerify bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}
	if skipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed BMC certs, operator opt-in
	}
	return t
}

func (c *Client) httpClient(t Target) *http.Client {
	if t.VerifySSL {
		return c.verifying
	}
	return c.insecure
}

// Fetch performs the full Redfish traversal for one host and returns the
// power readings and system identity found, or a typed *[Error].
//
// Fetch honours ctx for cancellation on every request: once the caller's
// per-host timeout elapses, the in-flight request is aborted and its
// connection released. Fetch mutates only the passed-in session.
func (c *Client) Fetch(ctx context.Context, t Target, s *Session) (*Report, error) {
	var root serviceRoot
	if err := c.getJSON(ctx, t, s, serviceRootPath, &root); err != nil {
		return nil, err
	}
	if !s.vendorKnown {
		s.setVendor(root.Vendor)
		c.logger.Debug("vendor detected", "host", t.FQDN, "vendor", root.Vendor)
	}
	if root.Chassis.ID == "" {
		return nil, errorf(KindProtocol, t.FQDN, "service root has no Chassis link")
	}

	report := &Report{Host: t.FQDN}

	var chassisColl collection
	if err := c.getJSON(ctx, t, s, root.Chassis.ID, &chassisColl); err != nil {
		return nil, err
	}
	for _, member := range chassisColl.Members {
		if member.ID == "" {
			continue
		}
		path := normalizePath(member.ID)
		if !t.wantsChassis(chassisID(path)) {
			continue
		}
		readings, err := c.fetchChassisPower(ctx, t, s, path)
		if err != nil {
			return nil, err
		}
		report.Readings = append(report.Readings, readings...)
	}

	identity, err := c.fetchIdentity(ctx, t, s, root)
	if err != nil {
		return nil, err
	}
	report.Identity = identity

	return report, nil
}

// fetchChassisPower resolves one chassis member down to its PSU readings,
// handling both the PowerSubsystem and legacy Power resource shapes.
// A chassis without power data is skipped, not an error.
func (c *Client) fetchChassisPower(ctx context.Context, t Target, s *Session, memberPath string) ([]Reading, error) {
	var ch chassisResource
	if err := c.getJSON(ctx, t, s, memberPath, &ch); err != nil {
		return nil, err
	}

	powerPath, kind, ok := selectPowerResource(ch)
	if !ok {
		c.logger.Warn("chassis has no power resource", "host", t.FQDN, "chassis", memberPath)
		return nil, nil
	}
	if kind == kindLegacyPower && c.warnDeprecated {
		c.logger.Warn("host uses deprecated Power resource, consider a firmware update",
			"host", t.FQDN, "chassis", memberPath)
	}

	switch kind {
	case kindPowerSubsystem:
		var ps subsystemPower
		if err := c.getJSON(ctx, t, s, powerPath, &ps); err != nil {
			return nil, err
		}
		if ps.PowerSupplies.ID == "" {
			c.logger.Warn("power subsystem has no supplies", "host", t.FQDN, "chassis", memberPath)
			return nil, nil
		}
		return c.fetchSubsystemSupplies(ctx, t, s, ps.PowerSupplies.ID)

	default: // kindLegacyPower
		var p legacyPower
		if err := c.getJSON(ctx, t, s, powerPath, &p); err != nil {
			return nil, err
		}
		readings := make([]Reading, 0, len(p.PowerSupplies))
		for _, psu := range p.PowerSupplies {
			readings = append(readings, legacyReading(psu))
		}
		return readings, nil
	}
}

// fetchSubsystemSupplies walks a PowerSupplies collection, fetching each
// PSU and its Metrics sub-resource.
func (c *Client) fetchSubsystemSupplies(ctx context.Context, t Target, s *Session, suppliesPath string) ([]Reading, error) {
	var psus collection
	if err := c.getJSON(ctx, t, s, suppliesPath, &psus); err != nil {
		return nil, err
	}

	var readings []Reading
	for _, member := range psus.Members {
		if member.ID == "" {
			continue
		}
		var psu subsystemPSU
		if err := c.getJSON(ctx, t, s, member.ID, &psu); err != nil {
			return nil, err
		}
		if psu.Metrics.ID == "" {
			c.logger.Warn("power supply has no metrics resource", "host", t.FQDN, "psu", member.ID)
			continue
		}
		var m psuMetrics
		if err := c.getJSON(ctx, t, s, psu.Metrics.ID, &m); err != nil {
			return nil, err
		}
		readings = append(readings, subsystemReading(psu, m))
	}
	return readings, nil
}

// fetchIdentity reads the first Systems member to build the host's
// identity series. A host with an empty Systems collection yields a nil
// identity rather than an error.
func (c *Client) fetchIdentity(ctx context.Context, t Target, s *Session, root serviceRoot) (*Identity, error) {
	path := root.Systems.ID
	if path == "" {
		path = systemsPath
	}

	var systems collection
	if err := c.getJSON(ctx, t, s, path, &systems); err != nil {
		return nil, err
	}
	for _, member := range systems.Members {
		if member.ID == "" {
			continue
		}
		var sys systemResource
		if err := c.getJSON(ctx, t, s, member.ID, &sys); err != nil {
			return nil, err
		}
		return &Identity{
			Manufacturer:   sys.Manufacturer,
			Model:          sys.Model,
			SerialNumber:   sys.SerialNumber,
			RedfishVersion: root.RedfishVersion,
		}, nil
	}
	return nil, nil
}

// getJSON fetches a resource and decodes it into v.
func (c *Client) getJSON(ctx context.Context, t Target, s *Session, path string, v any) error {
	body, err := c.get(ctx, t, s, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return newError(KindProtocol, t.FQDN, "malformed response from "+path, err)
	}
	return nil
}

// get performs one authenticated GET, transparently establishing an HPE
// session when needed and re-authenticating exactly once if the cached
// token has expired.
func (c *Client) get(ctx context.Context, t Target, s *Session, path string) ([]byte, error) {
	if s.isHPE() && !s.HasToken() {
		if err := c.login(ctx, t, s); err != nil {
			return nil, err
		}
	}

	body, status, err := c.do(ctx, t, s, path)
	if err != nil {
		return nil, newError(KindNetwork, t.FQDN, "request to "+path+" failed", err)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if s.isHPE() {
			// token expired mid-poll; re-login once and retry
			c.logger.Warn("session token rejected, re-authenticating", "host", t.FQDN)
			s.invalidate()
			if err := c.login(ctx, t, s); err != nil {
				return nil, err
			}
			body, status, err = c.do(ctx, t, s, path)
			if err != nil {
				return nil, newError(KindNetwork, t.FQDN, "request to "+path+" failed", err)
			}
			if status == http.StatusOK {
				return body, nil
			}
		}
		return nil, errorf(KindAuth, t.FQDN, "HTTP %d from %s", status, path)
	}
	if status != http.StatusOK {
		return nil, errorf(KindProtocol, t.FQDN, "unexpected HTTP %d from %s", status, path)
	}
	return body, nil
}

// do executes a single GET without status interpretation.
func (c *Client) do(ctx context.Context, t Target, s *Session, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+t.FQDN+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if s.isHPE() {
		req.Header.Set("X-Auth-Token", s.token)
	} else {
		req.SetBasicAuth(t.Username, t.Password)
	}

	resp, err := c.httpClient(t).Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// login establishes an HPE Redfish session and caches the token and
// logout location on the session.
func (c *Client) login(ctx context.Context, t Target, s *Session) error {
	payload, err := json.Marshal(map[string]string{
		"UserName": t.Username,
		"Password": t.Password,
	})
	if err != nil {
		return newError(KindProtocol, t.FQDN, "failed to encode login payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+t.FQDN+sessionsPath, bytes.NewReader(payload))
	if err != nil {
		return newError(KindNetwork, t.FQDN, "failed to create login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(t).Do(req)
	if err != nil {
		return newError(KindNetwork, t.FQDN, "login request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))

	if resp.StatusCode != http.StatusCreated {
		return errorf(KindAuth, t.FQDN, "login rejected with HTTP %d", resp.StatusCode)
	}
	token := resp.Header.Get("X-Auth-Token")
	if token == "" {
		return errorf(KindProtocol, t.FQDN, "login response missing X-Auth-Token header")
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return errorf(KindProtocol, t.FQDN, "login response missing Location header")
	}

	s.token = token
	s.logoutURL = location
	c.logger.Info("session established", "host", t.FQDN)
	return nil
}

// Logout deletes the host's Redfish session, if one is cached. The
// cached token is dropped regardless of the outcome so a later poll
// starts from a clean login.
func (c *Client) Logout(ctx context.Context, t Target, s *Session) error {
	if s.token == "" || s.logoutURL == "" {
		return nil
	}
	defer s.invalidate()

	// some controllers return an absolute Location, others a path
	url := s.logoutURL
	if strings.HasPrefix(url, "/") {
		url = "https://" + t.FQDN + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("X-Auth-Token", s.token)

	resp, err := c.httpClient(t).Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed for %s: %w", t.FQDN, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("logout from %s failed with HTTP %d", t.FQDN, resp.StatusCode)
	}
	c.logger.Info("logged out", "host", t.FQDN)
	return nil
}

// Close releases idle connections in both underlying pools.
//
// Safe to call multiple times; the client remains usable afterwards.
func (c *Client) Close() {
	for _, hc := range []*http.Client{c.verifying, c.insecure} {
		if transport, ok := hc.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
}
