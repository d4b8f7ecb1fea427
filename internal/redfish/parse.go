package redfish

import (
	"math"
	"strings"
)

// resourceKind selects the parsing variant for a chassis' power data.
// Redfish 2020.1 moved power supplies into a PowerSubsystem resource with
// per-PSU Metrics sub-resources; older firmware exposes a flat Power
// resource with an inline PowerSupplies array. Both variants produce the
// same [Reading] shape.
type resourceKind int

const (
	kindPowerSubsystem resourceKind = iota
	kindLegacyPower
)

func (k resourceKind) String() string {
	if k == kindLegacyPower {
		return "Power"
	}
	return "PowerSubsystem"
}

// odataRef is a Redfish resource link: {"@odata.id": "/redfish/v1/..."}.
type odataRef struct {
	ID string `json:"@odata.id"`
}

// serviceRoot is the /redfish/v1/ document.
type serviceRoot struct {
	Vendor         string   `json:"Vendor"`
	RedfishVersion string   `json:"RedfishVersion"`
	Chassis        odataRef `json:"Chassis"`
	Systems        odataRef `json:"Systems"`
}

// collection is any Redfish collection resource (chassis, systems, PSUs).
type collection struct {
	Members []odataRef `json:"Members"`
}

// chassisResource carries the links we care about on a chassis member.
type chassisResource struct {
	PowerSubsystem odataRef `json:"PowerSubsystem"`
	Power          odataRef `json:"Power"`
}

// selectPowerResource picks the power resource variant for a chassis,
// preferring the modern PowerSubsystem over the deprecated Power link.
// Returns ok=false when the chassis exposes neither.
func selectPowerResource(ch chassisResource) (path string, kind resourceKind, ok bool) {
	if ch.PowerSubsystem.ID != "" {
		return ch.PowerSubsystem.ID, kindPowerSubsystem, true
	}
	if ch.Power.ID != "" {
		return ch.Power.ID, kindLegacyPower, true
	}
	return "", 0, false
}

// subsystemPower is a PowerSubsystem resource.
type subsystemPower struct {
	PowerSupplies odataRef `json:"PowerSupplies"`
}

// subsystemPSU is one PSU member under a PowerSubsystem.
type subsystemPSU struct {
	SerialNumber string   `json:"SerialNumber"`
	Metrics      odataRef `json:"Metrics"`
}

// sensorReading is the {"Reading": <float>} shape used by PSU metrics.
type sensorReading struct {
	Reading *float64 `json:"Reading"`
}

// psuMetrics is a PowerSupply Metrics sub-resource.
type psuMetrics struct {
	InputVoltage     sensorReading `json:"InputVoltage"`
	InputPowerWatts  sensorReading `json:"InputPowerWatts"`
	InputCurrentAmps sensorReading `json:"InputCurrentAmps"`
}

// legacyPower is a deprecated Power resource with inline supplies.
type legacyPower struct {
	PowerSupplies []legacyPSU `json:"PowerSupplies"`
}

// legacyPSU is one entry of a legacy PowerSupplies array.
type legacyPSU struct {
	SerialNumber         string   `json:"SerialNumber"`
	LineInputVoltage     *float64 `json:"LineInputVoltage"`
	PowerInputWatts      *float64 `json:"PowerInputWatts"`
	LastPowerOutputWatts *float64 `json:"LastPowerOutputWatts"`
	InputCurrentAmps     *float64 `json:"InputCurrentAmps"`
}

// systemResource carries the identity fields of a Systems member.
type systemResource struct {
	Manufacturer string `json:"Manufacturer"`
	Model        string `json:"Model"`
	SerialNumber string `json:"SerialNumber"`
}

// subsystemReading builds a Reading from a PSU and its Metrics document.
func subsystemReading(psu subsystemPSU, m psuMetrics) Reading {
	r := Reading{
		PSUSerial: psu.SerialNumber,
		Volts:     m.InputVoltage.Reading,
		Watts:     m.InputPowerWatts.Reading,
		Amps:      m.InputCurrentAmps.Reading,
	}
	if r.Amps == nil {
		r.Amps = deriveAmps(r.Volts, r.Watts)
	}
	return r
}

// legacyReading builds a Reading from a legacy inline PSU entry. Older
// firmware often omits PowerInputWatts but reports LastPowerOutputWatts,
// and rarely reports current at all.
func legacyReading(psu legacyPSU) Reading {
	r := Reading{
		PSUSerial: psu.SerialNumber,
		Volts:     psu.LineInputVoltage,
		Watts:     psu.PowerInputWatts,
		Amps:      psu.InputCurrentAmps,
	}
	if r.Watts == nil {
		r.Watts = psu.LastPowerOutputWatts
	}
	if r.Amps == nil {
		r.Amps = deriveAmps(r.Volts, r.Watts)
	}
	return r
}

// deriveAmps computes current from watts and volts, rounded to two
// decimals, when the controller reports power but not current.
func deriveAmps(volts, watts *float64) *float64 {
	if volts == nil || watts == nil || *volts == 0 {
		return nil
	}
	a := math.Round(*watts / *volts * 100) / 100
	return &a
}

// normalizePath strips a trailing slash from a resource path. Redfish
// implementations older than 1.6.0 emit "@odata.id" values with trailing
// slashes, which breaks chassis ID extraction.
func normalizePath(p string) string {
	return strings.TrimSuffix(p, "/")
}

// chassisID extracts the chassis ID from a member path, e.g.
// "/redfish/v1/Chassis/1" -> "1".
func chassisID(p string) string {
	p = normalizePath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
