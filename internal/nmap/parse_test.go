package nmap_test

import (
	"testing"

	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/nmap"
	"github.com/stretchr/testify/require"
)

const reportXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -F -T4 -oX - 192.0.2.10" start="1717171717" version="7.95" xmloutputversion="1.05">
<host starttime="1717171717" endtime="1717171718">
<status state="up" reason="syn-ack" reason_ttl="0"/>
<address addr="192.0.2.10" addrtype="ipv4"/>
<hostnames><hostname name="scanme.test" type="PTR"/></hostnames>
<ports>
<port protocol="tcp" portid="22"><state state="open" reason="syn-ack" reason_ttl="0"/><service name="ssh" product="OpenSSH" version="9.6" method="probed" conf="10"/></port>
<port protocol="tcp" portid="80"><state state="open" reason="syn-ack" reason_ttl="0"/><service name="http" product="nginx" method="probed" conf="10"/></port>
</ports>
</host>
<runstats><finished time="1717171718" timestr="done" summary="done" elapsed="1.25" exit="success"/><hosts up="1" down="0" total="1"/></runstats>
</nmaprun>`

func TestParse(t *testing.T) {
	t.Parallel()

	res, err := nmap.Parse([]byte(reportXML))
	require.NoError(t, err)

	require.Equal(t, "192.0.2.10", res.Target)
	require.Equal(t, "1.25s", res.ScanTime)
	require.Len(t, res.Hosts, 1)
	require.Empty(t, res.RawOutput)

	host := res.Hosts[0]
	require.Equal(t, "192.0.2.10", host.Address)
	require.Equal(t, "up", host.Status)
	require.Equal(t, "scanme.test", host.Hostname)
	require.Len(t, host.Ports, 2)

	require.Equal(t, model.Port{
		Port: 22, Protocol: "tcp", State: "open",
		Service: "ssh", Version: "OpenSSH 9.6",
	}, host.Ports[0])
	require.Equal(t, model.Port{
		Port: 80, Protocol: "tcp", State: "open",
		Service: "http", Version: "nginx",
	}, host.Ports[1])
}

func TestParseGarbage(t *testing.T) {
	t.Parallel()

	_, err := nmap.Parse([]byte("Starting Nmap 7.95 ( https://nmap.org )"))
	require.ErrorIs(t, err, model.ErrParse)
	require.Contains(t, err.Error(), "Starting Nmap")
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	_, err := nmap.Parse(nil)
	require.ErrorIs(t, err, model.ErrParse)
}
