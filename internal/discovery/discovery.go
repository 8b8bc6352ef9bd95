// Package discovery locates Home Assistant on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_home-assistant._tcp"
	Domain      = "local."
)

var ErrNotFound = errors.New("home assistant not found on the local network")

// Instance is a Home Assistant instance announced over mDNS.
type Instance struct {
	Name    string
	URL     string
	Version string
}

type browseFunc func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error

func browse(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error {
	return zeroconf.Browse(ctx, service, domain, entries, removed)
}

// Find returns the first Home Assistant instance answering within timeout.
func Find(ctx context.Context, timeout time.Duration) (Instance, error) {
	return find(ctx, timeout, browse)
}

func find(ctx context.Context, timeout time.Duration, browse browseFunc) (Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	errc := make(chan error, 1)
	go func() {
		errc <- browse(ctx, ServiceType, Domain, entries, removed)
	}()

	log.Info().Str("service", ServiceType).Dur("timeout", timeout).Msg("Looking for Home Assistant")

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Instance{}, ErrNotFound
			}
			instance, ok := instanceFromEntry(entry)
			if !ok {
				continue
			}
			log.Info().Str("name", instance.Name).Str("url", instance.URL).Msg("Found Home Assistant")
			return instance, nil
		case <-removed:
		case err := <-errc:
			if err != nil {
				return Instance{}, fmt.Errorf("failed to browse %s: %w", ServiceType, err)
			}
			errc = nil
		case <-ctx.Done():
			return Instance{}, ErrNotFound
		}
	}
}

func txtRecords(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, record := range text {
		key, value, _ := strings.Cut(record, "=")
		out[strings.ToLower(key)] = value
	}
	return out
}

// instanceFromEntry prefers the URLs Home Assistant announces itself over
// the address of the announcement.
func instanceFromEntry(entry *zeroconf.ServiceEntry) (Instance, bool) {
	if entry == nil {
		return Instance{}, false
	}

	txt := txtRecords(entry.Text)
	instance := Instance{Name: entry.Instance, Version: txt["version"]}
	if name := txt["location_name"]; name != "" {
		instance.Name = name
	}

	for _, key := range []string{"internal_url", "base_url"} {
		if u := strings.TrimSpace(txt[key]); u != "" {
			instance.URL = strings.TrimRight(u, "/")
			return instance, true
		}
	}

	if entry.Port == 0 {
		return Instance{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Instance{}, false
	}

	instance.URL = "http://" + net.JoinHostPort(host, strconv.Itoa(entry.Port))
	return instance, true
}
