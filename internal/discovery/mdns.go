// Package discovery advertises and finds rfidjukebox daemons over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// Config describes the service to advertise.
type Config struct {
	Instance string // defaults to the hostname
	Service  string // e.g. "_rfidjukebox._tcp"
	Port     int
	Path     string // websocket path, published as a TXT record
	Version  string
}

// Advertiser is a running mDNS responder.
type Advertiser struct {
	server *mdns.Server
}

// Advertise starts answering mDNS queries for cfg until ctx is canceled or
// Shutdown is called.
func Advertise(ctx context.Context, cfg Config) (*Advertiser, error) {
	if cfg.Service == "" {
		return nil, errors.New("discovery: service is empty")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("discovery: port must be > 0")
	}

	instance := cfg.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("discovery: hostname: %w", err)
		}
		instance = host
	}

	ips, err := localIPv4s()
	if err != nil {
		return nil, fmt.Errorf("discovery: local addresses: %w", err)
	}

	service, err := mdns.NewMDNSService(instance, cfg.Service, "", "", cfg.Port, ips, txtRecords(cfg))
	if err != nil {
		return nil, fmt.Errorf("discovery: create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start responder: %w", err)
	}

	a := &Advertiser{server: server}
	go func() {
		<-ctx.Done()
		a.Shutdown()
	}()
	return a, nil
}

// Shutdown stops the responder. Safe to call more than once.
func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

func txtRecords(cfg Config) []string {
	var txt []string
	if cfg.Path != "" {
		txt = append(txt, "path="+cfg.Path)
	}
	if cfg.Version != "" {
		txt = append(txt, "version="+cfg.Version)
	}
	return txt
}

// ServerInfo describes a discovered daemon.
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// WebsocketURL is the state websocket address of the daemon.
func (s ServerInfo) WebsocketURL() string {
	path := s.Path
	if path == "" {
		path = "/ws"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(s.Host, fmt.Sprint(s.Port)), path)
}

// Browse queries the LAN once for service and returns what answered within
// timeout.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []ServerInfo, 1)

	go func() {
		var found []ServerInfo
		for entry := range entries {
			if info, ok := serverInfoFromEntry(entry); ok {
				found = append(found, info)
			}
		}
		done <- found
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() { errCh <- mdns.Query(params) }()

	var qerr error
	select {
	case qerr = <-errCh:
	case <-ctx.Done():
		qerr = ctx.Err()
		// Query has no cancellation; wait for its own timeout.
		<-errCh
	}
	close(entries)
	found := <-done

	if qerr != nil {
		return found, fmt.Errorf("discovery: query %s: %w", service, qerr)
	}
	return found, nil
}

func serverInfoFromEntry(e *mdns.ServiceEntry) (ServerInfo, bool) {
	if e == nil || e.AddrV4 == nil {
		return ServerInfo{}, false
	}
	info := ServerInfo{
		Name: e.Name,
		Host: e.AddrV4.String(),
		Port: e.Port,
	}
	for _, f := range e.InfoFields {
		if v, ok := strings.CutPrefix(f, "path="); ok {
			info.Path = v
		}
	}
	return info, true
}

// localIPv4s returns the non-loopback IPv4 addresses of up interfaces.
func localIPv4s() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
