package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/probe"
)

// startDNS serves PTR answers from names on a local UDP port.
func startDNS(t *testing.T, names map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			if name, ok := names[q.Name]; ok {
				rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN PTR %s", q.Name, name))
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			} else {
				m.Rcode = dns.RcodeNameError
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSEnricher(t *testing.T) {
	addr := startDNS(t, map[string]string{
		"10.1.168.192.in-addr.arpa.": "doorbell.lan.",
	})
	e, err := NewDNSEnricher(addr, time.Second)
	require.NoError(t, err)

	host := &Host{Address: "192.168.1.10"}
	require.NoError(t, e.Enrich(context.Background(), host))
	assert.Equal(t, "doorbell.lan", host.Hostname)

	unknown := &Host{Address: "192.168.1.99"}
	err = e.Enrich(context.Background(), unknown)
	assert.ErrorContains(t, err, "NXDOMAIN")
	assert.Empty(t, unknown.Hostname)

	assert.Error(t, e.Enrich(context.Background(), &Host{Address: "not-an-ip"}))
}

func TestSNMPEnricher(t *testing.T) {
	e := NewSNMPEnricher("public", time.Second)
	e.get = func(_ context.Context, target string, oids []string) ([]gosnmp.SnmpPDU, error) {
		assert.Equal(t, []string{oidSysDescr, oidSysName}, oids)
		if target != "10.0.0.5" {
			return nil, fmt.Errorf("request timeout")
		}
		return []gosnmp.SnmpPDU{
			{Name: "." + oidSysDescr, Type: gosnmp.OctetString, Value: []byte("Linux ipcam 3.10.14 armv7l ")},
			{Name: "." + oidSysName, Type: gosnmp.OctetString, Value: []byte("ipcam-hall")},
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(1234)},
		}, nil
	}

	host := &Host{Address: "10.0.0.5"}
	require.NoError(t, e.Enrich(context.Background(), host))
	assert.True(t, host.SNMPCommunityAccepted)
	assert.Equal(t, "Linux ipcam 3.10.14 armv7l", host.Description)
	assert.Equal(t, "ipcam-hall", host.Hostname)

	named := &Host{Address: "10.0.0.5", Hostname: "from-dns"}
	require.NoError(t, e.Enrich(context.Background(), named))
	assert.Equal(t, "from-dns", named.Hostname, "an existing name is kept")

	silent := &Host{Address: "10.0.0.6"}
	assert.Error(t, e.Enrich(context.Background(), silent))
	assert.False(t, silent.SNMPCommunityAccepted)
}

func TestEnrichersFromConfig(t *testing.T) {
	assert.Empty(t, enrichersFromConfig(config.DiscoveryConfig{}, logging.Discard()))

	got := enrichersFromConfig(config.DiscoveryConfig{
		ResolveNames:  true,
		DNSServer:     "127.0.0.1:53",
		SNMPCommunity: "public",
	}, logging.Discard())
	require.Len(t, got, 2)
	assert.Equal(t, "dns", got[0].Name())
	assert.Equal(t, "snmp", got[1].Name())
}

type stubEnricher struct{ fail bool }

func (stubEnricher) Name() string { return "stub" }

func (s stubEnricher) Enrich(_ context.Context, host *Host) error {
	if s.fail {
		return fmt.Errorf("no answer")
	}
	host.Hostname = "host-" + strings.ReplaceAll(host.Address, ".", "-")
	return nil
}

func TestDiscover_RunsEnrichers(t *testing.T) {
	svc, runner := newTestService(t, config.DiscoveryConfig{},
		WithEnrichers(stubEnricher{fail: true}, stubEnricher{}))
	runner.EXPECT().IsAvailable(gomock.Any()).Return(true)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd probe.Command) (*probe.Output, error) {
			if cmd.Kind == probe.KindSweep {
				return &probe.Output{Stdout: grepUp("10.2.0.1")}, nil
			}
			return &probe.Output{Stdout: grepPorts("10.2.0.1", 1883)}, nil
		}).Times(2)

	result, err := svc.Discover(context.Background(), "10.2.0.0/30")
	require.NoError(t, err)
	require.Len(t, result.Hosts, 1)
	assert.Equal(t, "host-10-2-0-1", result.Hosts[0].Hostname)
	assert.Equal(t, TypeSensor, result.Hosts[0].Type)
}
