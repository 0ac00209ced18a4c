package model

// ScanResult is the normalized scan report, identical in shape for
// every scan profile.
type ScanResult struct {
	Target   string `json:"target"`
	ScanTime string `json:"scan_time"`
	Hosts    []Host `json:"hosts"`
	// RawOutput keeps the tool's verbatim output for custom scans whose
	// output did not parse as a structured report.
	RawOutput string `json:"raw_output,omitempty"`
}

// Host is one scanned host with its liveness status and port records.
type Host struct {
	Address  string `json:"address"`
	Status   string `json:"status"`
	Hostname string `json:"hostname,omitempty"`
	Ports    []Port `json:"ports"`
}

// Port is a single per-port record. Service and Version are optional,
// their absence is not an error.
type Port struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Version  string `json:"version,omitempty"`
}
