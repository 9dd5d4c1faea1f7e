package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/logging"
)

const (
	resolvConfPath     = "/etc/resolv.conf"
	defaultLookupWait  = 2 * time.Second
	defaultSNMPPort    = 161
	oidSysDescr        = "1.3.6.1.2.1.1.1.0"
	oidSysName         = "1.3.6.1.2.1.1.5.0"
	maxDescriptionSize = 255
)

// Enricher adds identity details to a discovered host. Errors mean the
// detail is unknown; they never fail a sweep.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, host *Host) error
}

// enrichersFromConfig builds the enrichers turned on in cfg.
func enrichersFromConfig(cfg config.DiscoveryConfig, logger *logging.Logger) []Enricher {
	var out []Enricher
	if cfg.ResolveNames {
		e, err := NewDNSEnricher(cfg.DNSServer, cfg.LookupTimeout)
		if err != nil {
			logger.Warn("Reverse name lookups disabled", "error", err)
		} else {
			out = append(out, e)
		}
	}
	if cfg.SNMPCommunity != "" {
		out = append(out, NewSNMPEnricher(cfg.SNMPCommunity, cfg.LookupTimeout))
	}
	return out
}

// DNSEnricher fills Host.Hostname from the PTR record of its address.
type DNSEnricher struct {
	client *dns.Client
	server string
}

// NewDNSEnricher queries server ("host:port"). An empty server uses the
// first nameserver from /etc/resolv.conf.
func NewDNSEnricher(server string, timeout time.Duration) (*DNSEnricher, error) {
	if timeout <= 0 {
		timeout = defaultLookupWait
	}
	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConfPath)
		if err != nil {
			return nil, fmt.Errorf("no DNS server configured: %w", err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no nameserver in %s", resolvConfPath)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return &DNSEnricher{
		client: &dns.Client{Net: "udp", Timeout: timeout},
		server: server,
	}, nil
}

func (e *DNSEnricher) Name() string { return "dns" }

func (e *DNSEnricher) Enrich(ctx context.Context, host *Host) error {
	arpa, err := dns.ReverseAddr(host.Address)
	if err != nil {
		return err
	}
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)

	reply, _, err := e.client.ExchangeContext(ctx, msg, e.server)
	if err != nil {
		return err
	}
	if reply.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("PTR lookup for %s: %s", host.Address, dns.RcodeToString[reply.Rcode])
	}
	for _, rr := range reply.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			host.Hostname = strings.TrimSuffix(ptr.Ptr, ".")
			return nil
		}
	}
	return nil
}

// snmpGetFunc fetches oids from target.
type snmpGetFunc func(ctx context.Context, target string, oids []string) ([]gosnmp.SnmpPDU, error)

// SNMPEnricher reads sysDescr and sysName with a v2c community. A reply
// at all means the community is accepted, which is recorded on the host.
type SNMPEnricher struct {
	community string
	port      uint16
	timeout   time.Duration
	get       snmpGetFunc
}

// NewSNMPEnricher creates an enricher for community.
func NewSNMPEnricher(community string, timeout time.Duration) *SNMPEnricher {
	if timeout <= 0 {
		timeout = defaultLookupWait
	}
	e := &SNMPEnricher{community: community, port: defaultSNMPPort, timeout: timeout}
	e.get = e.snmpGet
	return e
}

func (e *SNMPEnricher) Name() string { return "snmp" }

func (e *SNMPEnricher) Enrich(ctx context.Context, host *Host) error {
	pdus, err := e.get(ctx, host.Address, []string{oidSysDescr, oidSysName})
	if err != nil {
		return err
	}
	host.SNMPCommunityAccepted = true
	for _, pdu := range pdus {
		value, ok := pdu.Value.([]byte)
		if pdu.Type != gosnmp.OctetString || !ok {
			continue
		}
		text := strings.TrimSpace(string(value))
		switch strings.TrimPrefix(pdu.Name, ".") {
		case oidSysDescr:
			if len(text) > maxDescriptionSize {
				text = text[:maxDescriptionSize]
			}
			host.Description = text
		case oidSysName:
			if host.Hostname == "" {
				host.Hostname = text
			}
		}
	}
	return nil
}

func (e *SNMPEnricher) snmpGet(ctx context.Context, target string, oids []string) ([]gosnmp.SnmpPDU, error) {
	client := &gosnmp.GoSNMP{
		Target:    target,
		Port:      e.port,
		Community: e.community,
		Version:   gosnmp.Version2c,
		Timeout:   e.timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", net.JoinHostPort(target, strconv.Itoa(int(e.port))), err)
	}
	defer func() { _ = client.Conn.Close() }()

	packet, err := client.Get(oids)
	if err != nil {
		return nil, err
	}
	if packet.Error != gosnmp.NoError {
		return nil, fmt.Errorf("snmp get %s: %s", target, packet.Error)
	}
	return packet.Variables, nil
}
