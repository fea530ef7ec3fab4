package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mytimer/mytimer-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for info.
func EncodeTXT(info *ServiceInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	v := info.Version
	if v == "" {
		v = version.Current
	}
	txt[TXTKeyVersion] = v

	if info.Capacity > 0 {
		txt[TXTKeyCapacity] = strconv.Itoa(info.Capacity)
	}
	if info.Host != "" {
		txt[TXTKeyHost] = info.Host
	}
	return txt
}

// DecodeTXT parses the TXT records of an advertised service.
func DecodeTXT(txt TXTRecordMap) (*ServiceInfo, error) {
	info := &ServiceInfo{}

	v, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if _, err := version.Parse(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}
	info.Version = v

	if s, ok := txt[TXTKeyCapacity]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid capacity %q", ErrInvalidTXTRecord, s)
		}
		info.Capacity = n
	}
	info.Host = txt[TXTKeyHost]

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value"
// strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %d > %d bytes", ErrInvalidInstanceName, len(name), MaxInstanceNameLen)
	}
	return nil
}
