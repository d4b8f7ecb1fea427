package redfish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBMC emulates a management controller's Redfish tree over TLS. It
// serves either the modern PowerSubsystem layout or the legacy Power
// layout, enforces basic or HPE session auth, and records every request
// path for assertions.
type fakeBMC struct {
	t      *testing.T
	vendor string
	legacy bool
	// trailingSlash emits "@odata.id" values with trailing slashes, as
	// pre-1.6.0 firmware does
	trailingSlash bool

	mu         sync.Mutex
	requests   []string
	logins     int
	logouts    int
	tokens     map[string]bool
	rejectOnce bool

	server *httptest.Server
}

const (
	bmcUsername = "admin"
	bmcPassword = "secret"
)

func newFakeBMC(t *testing.T, vendor string, legacy bool) *fakeBMC {
	b := &fakeBMC{
		t:      t,
		vendor: vendor,
		legacy: legacy,
		tokens: make(map[string]bool),
	}
	b.server = httptest.NewTLSServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBMC) target() Target {
	return Target{
		FQDN:      strings.TrimPrefix(b.server.URL, "https://"),
		Username:  bmcUsername,
		Password:  bmcPassword,
		VerifySSL: false,
		Chassis:   []string{"1"},
		Group:     "lab",
	}
}

func (b *fakeBMC) requested() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *fakeBMC) link(path string) string {
	if b.trailingSlash {
		return path + "/"
	}
	return path
}

func (b *fakeBMC) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.mu.Unlock()

	if r.Method == http.MethodPost && r.URL.Path == "/redfish/v1/SessionService/Sessions" {
		b.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/redfish/v1/SessionService/Sessions/") {
		b.handleLogout(w, r)
		return
	}
	if !b.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b.serveResource(w, r.URL.Path)
}

func (b *fakeBMC) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		UserName string `json:"UserName"`
		Password string `json:"Password"`
	}
	body, _ := io.ReadAll(r.Body)
	require.NoError(b.t, json.Unmarshal(body, &creds))
	if creds.UserName != bmcUsername || creds.Password != bmcPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	b.logins++
	token := fmt.Sprintf("token-%d", b.logins)
	b.tokens[token] = true
	b.mu.Unlock()

	w.Header().Set("X-Auth-Token", token)
	w.Header().Set("Location", "/redfish/v1/SessionService/Sessions/"+token)
	w.WriteHeader(http.StatusCreated)
}

func (b *fakeBMC) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/redfish/v1/SessionService/Sessions/")
	b.mu.Lock()
	if b.tokens[token] && r.Header.Get("X-Auth-Token") == token {
		delete(b.tokens, token)
		b.logouts++
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	b.mu.Unlock()
	w.WriteHeader(http.StatusUnauthorized)
}

func (b *fakeBMC) authorized(r *http.Request) bool {
	if strings.HasPrefix(strings.ToUpper(b.vendor), "HPE") {
		token := r.Header.Get("X-Auth-Token")
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.rejectOnce && b.tokens[token] {
			b.rejectOnce = false
			return false
		}
		return b.tokens[token]
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == bmcUsername && pass == bmcPassword
}

func (b *fakeBMC) serveResource(w http.ResponseWriter, path string) {
	resources := map[string]any{
		"/redfish/v1/": map[string]any{
			"Vendor":         b.vendor,
			"RedfishVersion": "1.6.0",
			"Chassis":        map[string]string{"@odata.id": b.link("/redfish/v1/Chassis")},
			"Systems":        map[string]string{"@odata.id": b.link("/redfish/v1/Systems")},
		},
		"/redfish/v1/Chassis": map[string]any{
			"Members": []map[string]string{
				{"@odata.id": b.link("/redfish/v1/Chassis/1")},
				{"@odata.id": b.link("/redfish/v1/Chassis/NVMe")},
			},
		},
		"/redfish/v1/Systems": map[string]any{
			"Members": []map[string]string{
				{"@odata.id": b.link("/redfish/v1/Systems/1")},
			},
		},
		"/redfish/v1/Systems/1": map[string]any{
			"Manufacturer": "Contoso",
			"Model":        "CX-9000",
			"SerialNumber": "SYS001",
		},
	}

	if b.legacy {
		resources["/redfish/v1/Chassis/1"] = map[string]any{
			"Power": map[string]string{"@odata.id": b.link("/redfish/v1/Chassis/1/Power")},
		}
		resources["/redfish/v1/Chassis/1/Power"] = map[string]any{
			"PowerSupplies": []map[string]any{
				{
					"SerialNumber":         "PSU-A",
					"LineInputVoltage":     230.0,
					"LastPowerOutputWatts": 460.0,
				},
			},
		}
	} else {
		resources["/redfish/v1/Chassis/1"] = map[string]any{
			"PowerSubsystem": map[string]string{"@odata.id": b.link("/redfish/v1/Chassis/1/PowerSubsystem")},
		}
		resources["/redfish/v1/Chassis/1/PowerSubsystem"] = map[string]any{
			"PowerSupplies": map[string]string{"@odata.id": b.link("/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies")},
		}
		resources["/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies"] = map[string]any{
			"Members": []map[string]string{
				{"@odata.id": b.link("/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0")},
			},
		}
		resources["/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0"] = map[string]any{
			"SerialNumber": "PSU-A",
			"Metrics":      map[string]string{"@odata.id": b.link("/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0/Metrics")},
		}
		resources["/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0/Metrics"] = map[string]any{
			"InputVoltage":    map[string]float64{"Reading": 229.0},
			"InputPowerWatts": map[string]float64{"Reading": 916.0},
		}
	}

	doc, ok := resources[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(b.t, json.NewEncoder(w).Encode(doc))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func errKind(t *testing.T, err error) Kind {
	t.Helper()
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	return rerr.Kind
}

func TestClient_FetchPowerSubsystem(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	report, err := c.Fetch(context.Background(), bmc.target(), NewSession())

	require.NoError(t, err)
	require.Len(t, report.Readings, 1)
	rd := report.Readings[0]
	assert.Equal(t, "PSU-A", rd.PSUSerial)
	assert.Equal(t, 229.0, *rd.Volts)
	assert.Equal(t, 916.0, *rd.Watts)
	require.NotNil(t, rd.Amps, "current must be derived when not reported")
	assert.Equal(t, 4.0, *rd.Amps)

	require.NotNil(t, report.Identity)
	assert.Equal(t, "Contoso", report.Identity.Manufacturer)
	assert.Equal(t, "CX-9000", report.Identity.Model)
	assert.Equal(t, "SYS001", report.Identity.SerialNumber)
	assert.Equal(t, "1.6.0", report.Identity.RedfishVersion)
}

// TestClient_FetchSkipsUnwantedChassis verifies the chassis filter: the
// NVMe pseudo-chassis appears in the collection but is never fetched.
func TestClient_FetchSkipsUnwantedChassis(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	_, err := c.Fetch(context.Background(), bmc.target(), NewSession())
	require.NoError(t, err)

	for _, req := range bmc.requested() {
		assert.NotContains(t, req, "NVMe")
	}
}

func TestClient_FetchLegacyPower(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", true)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	report, err := c.Fetch(context.Background(), bmc.target(), NewSession())

	require.NoError(t, err)
	require.Len(t, report.Readings, 1)
	rd := report.Readings[0]
	assert.Equal(t, "PSU-A", rd.PSUSerial)
	assert.Equal(t, 230.0, *rd.Volts)
	assert.Equal(t, 460.0, *rd.Watts, "output watts must fill in for missing input watts")
	require.NotNil(t, rd.Amps)
	assert.Equal(t, 2.0, *rd.Amps)
}

// TestClient_FetchTrailingSlashPaths covers firmware older than Redfish
// 1.6.0, which links resources with trailing slashes.
func TestClient_FetchTrailingSlashPaths(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	bmc.trailingSlash = true
	c := NewClient(discardLogger(), false)
	defer c.Close()

	report, err := c.Fetch(context.Background(), bmc.target(), NewSession())

	require.NoError(t, err)
	assert.Len(t, report.Readings, 1)
}

func TestClient_FetchDetectsVendorOnce(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	s := NewSession()
	_, err := c.Fetch(context.Background(), bmc.target(), s)
	require.NoError(t, err)

	assert.Equal(t, "Contoso", s.Vendor())
}

func TestClient_HPESessionLogin(t *testing.T) {
	bmc := newFakeBMC(t, "HPE", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	// vendor already detected on a previous poll; every request in this
	// poll must carry the session token from a single login
	s := NewSession()
	s.setVendor("HPE")
	report, err := c.Fetch(context.Background(), bmc.target(), s)

	require.NoError(t, err)
	assert.Len(t, report.Readings, 1)
	assert.True(t, s.HasToken())

	bmc.mu.Lock()
	logins := bmc.logins
	bmc.mu.Unlock()
	assert.Equal(t, 1, logins, "one login must cover the whole traversal")
}

// TestClient_HPETokenExpiryReauth verifies that a token rejected mid-poll
// triggers exactly one re-login and the poll still succeeds.
func TestClient_HPETokenExpiryReauth(t *testing.T) {
	bmc := newFakeBMC(t, "HPE", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	s := NewSession()
	s.setVendor("HPE")
	_, err := c.Fetch(context.Background(), bmc.target(), s)
	require.NoError(t, err)

	bmc.mu.Lock()
	bmc.rejectOnce = true
	bmc.mu.Unlock()

	report, err := c.Fetch(context.Background(), bmc.target(), s)

	require.NoError(t, err)
	assert.Len(t, report.Readings, 1)
	bmc.mu.Lock()
	logins := bmc.logins
	bmc.mu.Unlock()
	assert.Equal(t, 2, logins)
}

func TestClient_Logout(t *testing.T) {
	bmc := newFakeBMC(t, "HPE", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	s := NewSession()
	s.setVendor("HPE")
	_, err := c.Fetch(context.Background(), bmc.target(), s)
	require.NoError(t, err)
	require.True(t, s.HasToken())

	require.NoError(t, c.Logout(context.Background(), bmc.target(), s))

	assert.False(t, s.HasToken())
	bmc.mu.Lock()
	logouts := bmc.logouts
	bmc.mu.Unlock()
	assert.Equal(t, 1, logouts)
}

func TestClient_LogoutWithoutSessionIsNoop(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	require.NoError(t, c.Logout(context.Background(), bmc.target(), NewSession()))
	assert.Empty(t, bmc.requested())
}

func TestClient_BadCredentialsIsAuthError(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	tgt := bmc.target()
	tgt.Password = "wrong"
	_, err := c.Fetch(context.Background(), tgt, NewSession())

	require.Error(t, err)
	assert.Equal(t, KindAuth, errKind(t, err))
	assert.False(t, IsTransient(err), "auth failures must not be retried")
}

func TestClient_ServerErrorIsProtocolError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	c := NewClient(discardLogger(), false)
	defer c.Close()

	tgt := Target{FQDN: strings.TrimPrefix(server.URL, "https://"), Username: "u", Password: "p"}
	_, err := c.Fetch(context.Background(), tgt, NewSession())

	require.Error(t, err)
	assert.Equal(t, KindProtocol, errKind(t, err))
}

func TestClient_MalformedBodyIsProtocolError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()
	c := NewClient(discardLogger(), false)
	defer c.Close()

	tgt := Target{FQDN: strings.TrimPrefix(server.URL, "https://"), Username: "u", Password: "p"}
	_, err := c.Fetch(context.Background(), tgt, NewSession())

	require.Error(t, err)
	assert.Equal(t, KindProtocol, errKind(t, err))
}

func TestClient_UnreachableHostIsNetworkError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := strings.TrimPrefix(server.URL, "https://")
	server.Close()

	c := NewClient(discardLogger(), false)
	defer c.Close()

	_, err := c.Fetch(context.Background(), Target{FQDN: addr, Username: "u", Password: "p"}, NewSession())

	require.Error(t, err)
	assert.Equal(t, KindNetwork, errKind(t, err))
	assert.True(t, IsTransient(err), "network failures are worth a retry")
}

func TestClient_CancelledContext(t *testing.T) {
	bmc := newFakeBMC(t, "Contoso", false)
	c := NewClient(discardLogger(), false)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, bmc.target(), NewSession())

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errKind(t, err) == KindNetwork)
}

// TestClient_ChassisWithoutPowerIsSkipped verifies a chassis lacking both
// power resource variants contributes no readings and no error.
func TestClient_ChassisWithoutPowerIsSkipped(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/redfish/v1/":
			_, _ = w.Write([]byte(`{"Vendor":"Contoso","RedfishVersion":"1.6.0",` +
				`"Chassis":{"@odata.id":"/redfish/v1/Chassis"},"Systems":{"@odata.id":"/redfish/v1/Systems"}}`))
		case "/redfish/v1/Chassis":
			_, _ = w.Write([]byte(`{"Members":[{"@odata.id":"/redfish/v1/Chassis/1"}]}`))
		case "/redfish/v1/Chassis/1":
			_, _ = w.Write([]byte(`{}`))
		case "/redfish/v1/Systems":
			_, _ = w.Write([]byte(`{"Members":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	c := NewClient(discardLogger(), false)
	defer c.Close()

	tgt := Target{FQDN: strings.TrimPrefix(server.URL, "https://"), Username: "u", Password: "p", Chassis: []string{"1"}}
	report, err := c.Fetch(context.Background(), tgt, NewSession())

	require.NoError(t, err)
	assert.Empty(t, report.Readings)
	assert.Nil(t, report.Identity, "empty systems collection yields no identity")
}
