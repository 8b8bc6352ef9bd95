package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance string, port int, text []string, ips ...net.IP) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{}
	e.Instance = instance
	e.HostName = "homeassistant.local."
	e.Port = port
	e.Text = text
	for _, ip := range ips {
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

func TestInstanceFromEntry(t *testing.T) {
	tests := []struct {
		name   string
		entry  *zeroconf.ServiceEntry
		want   Instance
		wantOK bool
	}{
		{
			name: "internal url",
			entry: entry("Home", 8123, []string{
				"location_name=My Home", "version=2024.8.0",
				"base_url=http://10.0.0.2:8123", "internal_url=http://ha.lan:8123/",
			}),
			want:   Instance{Name: "My Home", URL: "http://ha.lan:8123", Version: "2024.8.0"},
			wantOK: true,
		},
		{
			name:   "base url",
			entry:  entry("Home", 8123, []string{"base_url=http://10.0.0.2:8123"}),
			want:   Instance{Name: "Home", URL: "http://10.0.0.2:8123"},
			wantOK: true,
		},
		{
			name:   "ipv4 address",
			entry:  entry("Home", 8123, nil, net.ParseIP("192.168.1.10")),
			want:   Instance{Name: "Home", URL: "http://192.168.1.10:8123"},
			wantOK: true,
		},
		{
			name:   "ipv6 address",
			entry:  entry("Home", 8123, nil, net.ParseIP("fe80::1")),
			want:   Instance{Name: "Home", URL: "http://[fe80::1]:8123"},
			wantOK: true,
		},
		{
			name:   "host name",
			entry:  entry("Home", 8123, nil),
			want:   Instance{Name: "Home", URL: "http://homeassistant.local:8123"},
			wantOK: true,
		},
		{
			name:   "no port",
			entry:  entry("Home", 0, nil),
			wantOK: false,
		},
		{
			name:   "nil",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := instanceFromEntry(tt.entry)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFind(t *testing.T) {
	browse := func(ctx context.Context, service, domain string, entries, _ chan<- *zeroconf.ServiceEntry) error {
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, Domain, domain)

		for _, e := range []*zeroconf.ServiceEntry{
			entry("broken", 0, nil),
			entry("Home", 8123, []string{"base_url=http://10.0.0.2:8123"}),
		} {
			select {
			case entries <- e:
			case <-ctx.Done():
				return nil
			}
		}
		<-ctx.Done()
		return nil
	}

	instance, err := find(context.Background(), time.Second, browse)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8123", instance.URL)
}

func TestFind_NotFound(t *testing.T) {
	browse := func(ctx context.Context, _, _ string, _, _ chan<- *zeroconf.ServiceEntry) error {
		<-ctx.Done()
		return nil
	}

	_, err := find(context.Background(), 20*time.Millisecond, browse)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFind_BrowseError(t *testing.T) {
	browse := func(context.Context, string, string, chan<- *zeroconf.ServiceEntry, chan<- *zeroconf.ServiceEntry) error {
		return assert.AnError
	}

	_, err := find(context.Background(), time.Second, browse)
	assert.ErrorIs(t, err, assert.AnError)
}
