package discovery

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/enbility/zeroconf/v3"

	"github.com/mytimer/mytimer-go/pkg/version"
)

func TestEncodeDecodeTXT(t *testing.T) {
	info := &ServiceInfo{Capacity: 4, Host: "kitchen"}
	txt := EncodeTXT(info)

	if txt[TXTKeyVersion] != version.Current {
		t.Errorf("pv = %q, want %q", txt[TXTKeyVersion], version.Current)
	}
	if txt[TXTKeyCapacity] != "4" {
		t.Errorf("cap = %q, want 4", txt[TXTKeyCapacity])
	}

	got, err := DecodeTXT(StringsToTXTRecords(TXTRecordsToStrings(txt)))
	if err != nil {
		t.Fatalf("DecodeTXT failed: %v", err)
	}
	if got.Version != version.Current || got.Capacity != 4 || got.Host != "kitchen" {
		t.Errorf("DecodeTXT = %+v", got)
	}
}

func TestEncodeTXTOmitsOptional(t *testing.T) {
	txt := EncodeTXT(&ServiceInfo{})
	if len(txt) != 1 {
		t.Errorf("EncodeTXT = %v, want only %s", txt, TXTKeyVersion)
	}
}

func TestDecodeTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing version", TXTRecordMap{}, ErrMissingRequired},
		{"bad version", TXTRecordMap{TXTKeyVersion: "one"}, ErrInvalidTXTRecord},
		{"bad capacity", TXTRecordMap{TXTKeyVersion: "1.0", TXTKeyCapacity: "x"}, ErrInvalidTXTRecord},
		{"negative capacity", TXTRecordMap{TXTKeyVersion: "1.0", TXTKeyCapacity: "-2"}, ErrInvalidTXTRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTXT(tt.txt); !errors.Is(err, tt.want) {
				t.Errorf("DecodeTXT error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTXTStrings(t *testing.T) {
	strs := TXTRecordsToStrings(TXTRecordMap{"pv": "1.0", "cap": "2", "host": "a=b"})
	want := []string{"cap=2", "host=a=b", "pv=1.0"}
	if !reflect.DeepEqual(strs, want) {
		t.Errorf("TXTRecordsToStrings = %v, want %v", strs, want)
	}

	txt := StringsToTXTRecords([]string{"host=a=b", "flag", "", "=x"})
	if txt["host"] != "a=b" {
		t.Errorf("host = %q, want a=b", txt["host"])
	}
	if v, ok := txt["flag"]; !ok || v != "" {
		t.Errorf("flag = %q, %v", v, ok)
	}
	if len(txt) != 2 {
		t.Errorf("StringsToTXTRecords = %v", txt)
	}
}

func TestValidateInstanceName(t *testing.T) {
	if err := ValidateInstanceName("mytimer-box"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
	if err := ValidateInstanceName(""); !errors.Is(err, ErrInvalidInstanceName) {
		t.Errorf("empty name error = %v", err)
	}
	if err := ValidateInstanceName(strings.Repeat("x", MaxInstanceNameLen+1)); !errors.Is(err, ErrInvalidInstanceName) {
		t.Errorf("long name error = %v", err)
	}
	if name := DefaultInstanceName(); ValidateInstanceName(name) != nil || !strings.HasPrefix(name, "mytimer-") {
		t.Errorf("DefaultInstanceName() = %q", name)
	}
}

func TestServiceAddress(t *testing.T) {
	tests := []struct {
		svc  Service
		want string
	}{
		{Service{Host: "box.local.", Port: 7117}, "box.local.:7117"},
		{Service{Host: "box.local.", Port: 7117, Addresses: []string{"192.168.1.5"}}, "192.168.1.5:7117"},
		{Service{Port: 7117, Addresses: []string{"fe80::1"}}, "[fe80::1]:7117"},
	}
	for _, tt := range tests {
		if got := tt.svc.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}

func TestEntryToService(t *testing.T) {
	b := NewBrowser(BrowserConfig{})

	entry := &zeroconf.ServiceEntry{}
	entry.Instance = "mytimer-box"
	entry.HostName = "box.local."
	entry.Port = 7117
	entry.Text = []string{"pv=1.3", "cap=2"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.5")}

	svc := b.entryToService(entry)
	if svc == nil {
		t.Fatal("compatible service rejected")
	}
	if svc.InstanceName != "mytimer-box" || svc.Port != 7117 || svc.Capacity != 2 {
		t.Errorf("service = %+v", svc)
	}
	if svc.Address() != "192.168.1.5:7117" {
		t.Errorf("Address() = %q", svc.Address())
	}

	entry.Text = []string{"pv=2.0"}
	if b.entryToService(entry) != nil {
		t.Error("incompatible major version accepted")
	}
	entry.Text = nil
	if b.entryToService(entry) != nil {
		t.Error("service without version accepted")
	}
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "fe80::1"})
	if !reflect.DeepEqual(addrs, []string{"10.0.0.1", "fe80::1"}) {
		t.Errorf("mergeAddresses = %v", addrs)
	}

	entry := &zeroconf.ServiceEntry{AddrIPv4: []net.IP{net.ParseIP("10.0.0.1")}}
	addrs = removeAddresses(addrs, entry)
	if !reflect.DeepEqual(addrs, []string{"fe80::1"}) {
		t.Errorf("removeAddresses = %v", addrs)
	}
}

func TestAdvertiserNotAdvertising(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	if err := a.UpdateCapacity(3); !errors.Is(err, ErrNotAdvertising) {
		t.Errorf("UpdateCapacity error = %v, want ErrNotAdvertising", err)
	}
	a.Stop()

	err := a.Advertise(context.Background(), ServiceInfo{Instance: strings.Repeat("x", 64)})
	if !errors.Is(err, ErrInvalidInstanceName) {
		t.Errorf("Advertise error = %v, want ErrInvalidInstanceName", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Advertise(ctx, ServiceInfo{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Advertise error = %v, want context.Canceled", err)
	}
}

func TestAdvertiserLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("uses multicast networking")
	}

	a := NewAdvertiser(AdvertiserConfig{})
	defer a.Stop()

	if err := a.Advertise(context.Background(), ServiceInfo{Instance: "mytimer-test", Port: 17117, Capacity: 1}); err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	if err := a.UpdateCapacity(5); err != nil {
		t.Errorf("UpdateCapacity failed: %v", err)
	}
	a.Stop()
	if err := a.UpdateCapacity(5); !errors.Is(err, ErrNotAdvertising) {
		t.Errorf("UpdateCapacity after Stop = %v", err)
	}
}
