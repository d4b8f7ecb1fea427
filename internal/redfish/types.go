package redfish

import "strings"

// Target identifies one management controller to poll.
//
// A Target is built once from configuration and never mutated afterwards;
// it is shared read-only between the scheduler and client calls. Session
// state that changes between polls lives in [Session] instead.
type Target struct {
	// FQDN is the controller's fully-qualified name or address, without
	// scheme. All requests go to https://<FQDN>.
	FQDN string

	// Username and Password authenticate against the management API.
	Username string
	Password string

	// VerifySSL controls TLS certificate verification. Management
	// controllers commonly ship self-signed certificates, so operators
	// often disable this per host.
	VerifySSL bool

	// Chassis lists the chassis IDs to query. Members of the chassis
	// collection outside this list are skipped (some vendors expose
	// pseudo-chassis like "NVMe" with no power data).
	Chassis []string

	// Group is an operator-assigned grouping label carried onto every
	// metric for this host.
	Group string
}

// wantsChassis reports whether the chassis collection member with the
// given ID should be queried.
func (t Target) wantsChassis(id string) bool {
	if len(t.Chassis) == 0 {
		return true
	}
	for _, c := range t.Chassis {
		if c == id {
			return true
		}
	}
	return false
}

// Session holds the per-host state that survives across poll cycles:
// the detected vendor and, for HPE controllers, the cached session token.
//
// A Session is owned by its host's poll task. The scheduler never runs
// two polls for the same host concurrently, so no locking is needed here.
type Session struct {
	vendor      string
	vendorKnown bool
	token       string
	logoutURL   string
}

// NewSession returns an empty session for a host.
func NewSession() *Session {
	return &Session{}
}

// Vendor returns the detected vendor string, or "" if not yet probed.
func (s *Session) Vendor() string {
	return s.vendor
}

func (s *Session) setVendor(v string) {
	s.vendor = v
	s.vendorKnown = true
}

// isHPE reports whether the host needs HPE session-token authentication
// instead of basic auth.
func (s *Session) isHPE() bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(s.vendor)), "HPE")
}

// HasToken reports whether a session token is currently cached.
func (s *Session) HasToken() bool {
	return s.token != ""
}

func (s *Session) invalidate() {
	s.token = ""
}

// Reading is one polled power sample for a single power supply unit.
// Optional fields are nil when the controller did not report them.
type Reading struct {
	PSUSerial string
	Volts     *float64
	Watts     *float64
	Amps      *float64
}

// Identity describes the system behind a controller, reported as a
// label-only informational metric.
type Identity struct {
	Manufacturer   string
	Model          string
	SerialNumber   string
	RedfishVersion string
}

// Report is the successful outcome of one fetch: everything learned
// about a host in a single poll.
type Report struct {
	Host     string
	Readings []Reading
	Identity *Identity
}
