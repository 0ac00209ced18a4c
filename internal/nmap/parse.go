package nmap

import (
	"fmt"
	"strings"

	"github.com/scantaskd/scantaskd/internal/model"

	nmap "github.com/Ullaakut/nmap/v3"
)

// fragmentLen bounds how much offending output a parse error carries.
const fragmentLen = 120

// Parse normalizes the tool's XML report. The result has the same shape
// for every scan profile. Missing service/version attributes are simply
// omitted. Input that is not an XML report at all yields an error
// wrapping model.ErrParse together with the offending fragment.
func Parse(raw []byte) (model.ScanResult, error) {
	run := &nmap.Run{}
	if err := nmap.Parse(raw, run); err != nil {
		return model.ScanResult{}, fmt.Errorf("%w: %v (near %q)", model.ErrParse, err, fragment(raw))
	}

	res := model.ScanResult{
		Target:   targetFromArgs(run.Args),
		ScanTime: scanTime(run),
		Hosts:    make([]model.Host, 0, len(run.Hosts)),
	}
	for _, h := range run.Hosts {
		res.Hosts = append(res.Hosts, convertHost(h))
	}
	return res, nil
}

func fragment(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > fragmentLen {
		s = s[:fragmentLen]
	}
	return s
}

func targetFromArgs(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[len(fields)-1]
}

func scanTime(run *nmap.Run) string {
	if run.Stats.Finished.Elapsed == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%.2fs", run.Stats.Finished.Elapsed)
}

func convertHost(h nmap.Host) model.Host {
	host := model.Host{
		Address: address(h),
		Status:  h.Status.State,
		Ports:   make([]model.Port, 0, len(h.Ports)),
	}
	if len(h.Hostnames) > 0 {
		host.Hostname = h.Hostnames[0].Name
	}
	for _, p := range h.Ports {
		host.Ports = append(host.Ports, convertPort(p))
	}
	return host
}

// address prefers the IPv4 address, falls back to any other.
func address(h nmap.Host) string {
	var fallback string
	for _, a := range h.Addresses {
		if a.AddrType == "ipv4" {
			return a.Addr
		}
		if fallback == "" {
			fallback = a.Addr
		}
	}
	if fallback == "" {
		return "unknown"
	}
	return fallback
}

func convertPort(p nmap.Port) model.Port {
	port := model.Port{
		Port:     int(p.ID),
		Protocol: p.Protocol,
		State:    p.State.State,
		Service:  p.Service.Name,
	}
	version := strings.TrimSpace(p.Service.Product + " " + p.Service.Version)
	if version != "" {
		port.Version = version
	}
	return port
}
