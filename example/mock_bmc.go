package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

const (
	mockUsername = "admin"
	mockPassword = "secret"
)

// mockReadings produces slowly drifting PSU values so the demo metrics
// visibly change between scrapes.
type mockReadings struct {
	mu    sync.Mutex
	rng   *rand.Rand
	watts float64
}

func (m *mockReadings) next() (volts, watts float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watts += m.rng.Float64()*40 - 20
	if m.watts < 300 {
		m.watts = 300
	}
	if m.watts > 900 {
		m.watts = 900
	}
	return 230, m.watts
}

// StartMockBMC serves a minimal Redfish tree over TLS with a single
// chassis, one power supply, and basic auth. Close the returned server
// when done.
func StartMockBMC() *httptest.Server {
	readings := &mockReadings{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		watts: 600,
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != mockUsername || pass != mockPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var doc any
		switch r.URL.Path {
		case "/redfish/v1/":
			doc = map[string]any{
				"Vendor":         "Contoso",
				"RedfishVersion": "1.6.0",
				"Chassis":        ref("/redfish/v1/Chassis"),
				"Systems":        ref("/redfish/v1/Systems"),
			}
		case "/redfish/v1/Chassis":
			doc = members("/redfish/v1/Chassis/1")
		case "/redfish/v1/Chassis/1":
			doc = map[string]any{
				"PowerSubsystem": ref("/redfish/v1/Chassis/1/PowerSubsystem"),
			}
		case "/redfish/v1/Chassis/1/PowerSubsystem":
			doc = map[string]any{
				"PowerSupplies": ref("/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies"),
			}
		case "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies":
			doc = members("/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0")
		case "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0":
			doc = map[string]any{
				"SerialNumber": "DEMO-PSU-01",
				"Metrics":      ref("/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0/Metrics"),
			}
		case "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/0/Metrics":
			volts, watts := readings.next()
			doc = map[string]any{
				"InputVoltage":    map[string]float64{"Reading": volts},
				"InputPowerWatts": map[string]float64{"Reading": watts},
			}
		case "/redfish/v1/Systems":
			doc = members("/redfish/v1/Systems/1")
		case "/redfish/v1/Systems/1":
			doc = map[string]any{
				"Manufacturer": "Contoso",
				"Model":        "Demo-9000",
				"SerialNumber": "DEMO001",
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})

	return httptest.NewTLSServer(handler)
}

func ref(path string) map[string]string {
	return map[string]string{"@odata.id": path}
}

func members(paths ...string) map[string]any {
	refs := make([]map[string]string, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, ref(p))
	}
	return map[string]any{"Members": refs}
}
