package winlog

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in logical channel names.
const (
	Application            = "Application"
	System                 = "System"
	Security               = "Security"
	DirectoryService       = "DirectoryService"
	DNSServer              = "DNSServer"
	FileReplicationService = "FileReplicationService"
)

var builtinChannels = map[string]string{
	Application:            "Application",
	System:                 "System",
	Security:               "Security",
	DirectoryService:       "Directory Service",
	DNSServer:              "DNS Server",
	FileReplicationService: "File Replication Service",
}

// DefaultChannels is the process-wide table of built-in channels.
var DefaultChannels = mustChannelTable(nil)

// ChannelInfo describes one entry of a ChannelTable.
type ChannelInfo struct {
	Name     string `json:"name"`
	NativeID string `json:"nativeId"`
	Custom   bool   `json:"custom"`
}

// ChannelTable maps logical channel names to native log identifiers.
// A table never changes after construction and is safe for concurrent use.
type ChannelTable struct {
	byName   map[string]ChannelInfo
	byNative map[string]ChannelInfo
	names    []string
}

// NewChannelTable builds a table holding the built-in channels plus the given
// custom channels (logical name -> native identifier).
func NewChannelTable(custom map[string]string) (*ChannelTable, error) {
	t := &ChannelTable{
		byName:   make(map[string]ChannelInfo, len(builtinChannels)+len(custom)),
		byNative: make(map[string]ChannelInfo, len(builtinChannels)+len(custom)),
	}
	for name, id := range builtinChannels {
		if err := t.add(ChannelInfo{Name: name, NativeID: id}); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		id := strings.TrimSpace(custom[raw])
		if name == "" || id == "" {
			return nil, &ConfigError{Field: "channel", Value: name, Err: fmt.Errorf("%w: empty name or native id", ErrInvalidChannelTable)}
		}
		if _, ok := builtinChannels[name]; ok {
			return nil, &ConfigError{Field: "channel", Value: name, Err: fmt.Errorf("%w: cannot redefine built-in channel", ErrInvalidChannelTable)}
		}
		if err := t.add(ChannelInfo{Name: name, NativeID: id, Custom: true}); err != nil {
			return nil, err
		}
	}

	sort.Strings(t.names)
	return t, nil
}

func mustChannelTable(custom map[string]string) *ChannelTable {
	t, err := NewChannelTable(custom)
	if err != nil {
		panic(err)
	}
	return t
}

// add inserts info. A name or native ID may resolve to only one entry.
func (t *ChannelTable) add(info ChannelInfo) error {
	if _, ok := t.byName[info.Name]; ok {
		return &ConfigError{Field: "channel", Value: info.Name, Err: fmt.Errorf("%w: duplicate channel name", ErrInvalidChannelTable)}
	}
	if _, ok := t.byNative[info.Name]; ok {
		return &ConfigError{Field: "channel", Value: info.Name, Err: fmt.Errorf("%w: name collides with a native id", ErrInvalidChannelTable)}
	}
	if _, ok := t.byNative[info.NativeID]; ok {
		return &ConfigError{Field: "channel", Value: info.Name, Err: fmt.Errorf("%w: native id %q already mapped", ErrInvalidChannelTable, info.NativeID)}
	}
	if _, ok := t.byName[info.NativeID]; ok {
		return &ConfigError{Field: "channel", Value: info.Name, Err: fmt.Errorf("%w: native id %q collides with a channel name", ErrInvalidChannelTable, info.NativeID)}
	}
	t.byName[info.Name] = info
	t.byNative[info.NativeID] = info
	t.names = append(t.names, info.Name)
	return nil
}

// Lookup resolves a logical channel name, or a native identifier already
// present in the table, to the native identifier.
func (t *ChannelTable) Lookup(name string) (string, error) {
	if info, ok := t.byName[name]; ok {
		return info.NativeID, nil
	}
	if info, ok := t.byNative[name]; ok {
		return info.NativeID, nil
	}
	return "", &ConfigError{Field: "channel", Value: name, Err: ErrUnknownChannel}
}

// Contains reports whether name resolves in the table.
func (t *ChannelTable) Contains(name string) bool {
	_, err := t.Lookup(name)
	return err == nil
}

// Names returns the sorted logical channel names.
func (t *ChannelTable) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Channels returns every entry, sorted by logical name.
func (t *ChannelTable) Channels() []ChannelInfo {
	out := make([]ChannelInfo, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, t.byName[name])
	}
	return out
}
