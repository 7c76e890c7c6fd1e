package main

import (
	"context"
	"time"

	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// demoEvent is one template of the seeded demo data.
type demoEvent struct {
	eventID  int64
	provider string
	level    int64
	name     string
	keywords uint64
}

// demoChannels maps native channel IDs to the events seeded into them, cycled in order.
var demoChannels = map[string][]demoEvent{
	"Security": {
		{4624, "Microsoft-Windows-Security-Auditing", 0, "An account was successfully logged on", 0x8020000000000000},
		{4625, "Microsoft-Windows-Security-Auditing", 0, "An account failed to log on", 0x8010000000000000},
		{4672, "Microsoft-Windows-Security-Auditing", 0, "Special privileges assigned to new logon", 0x8020000000000000},
		{4634, "Microsoft-Windows-Security-Auditing", 0, "An account was logged off", 0x8020000000000000},
	},
	"System": {
		{7036, "Service Control Manager", 4, "", 0x8080000000000000},
		{6005, "EventLog", 4, "", 0x80000000000000},
		{7045, "Service Control Manager", 4, "A service was installed in the system", 0x8080000000000000},
	},
	"Application": {
		{1000, "Application Error", 2, "", 0x80000000000000},
		{1001, "Windows Error Reporting", 4, "", 0x80000000000000},
		{1033, "MsiInstaller", 4, "", 0x80000000000000},
	},
	"DNS Server": {
		{2, "Microsoft-Windows-DNS-Server-Service", 4, "", 0x8000000000000000},
		{4013, "Microsoft-Windows-DNS-Server-Service", 3, "", 0x8000000000000000},
	},
}

// demoRecordsPerChannel is how many records each demo channel receives.
const demoRecordsPerChannel = 25

// seedDemo fills mem with a fixed set of plausible records, the newest
// timestamped at now.
func seedDemo(ctx context.Context, mem *nativereader.Memory, now time.Time) error {
	for channel, events := range demoChannels {
		for i := 0; i < demoRecordsPerChannel; i++ {
			ev := events[i%len(events)]
			age := time.Duration(demoRecordsPerChannel-1-i) * time.Minute
			_, err := mem.Append(ctx, channel, &winlog.EventRecord{
				EventID:      ev.eventID,
				ProviderName: ev.provider,
				Computer:     "WINLOG-DEMO",
				TimeCreated:  now.Add(-age).UTC(),
				TimeWritten:  now.Add(-age).UTC(),
				EventName:    ev.name,
				Level:        ev.level,
				Keywords:     ev.keywords,
				ProcessID:    winlog.Uint32(uint32(500 + i)),
				ThreadID:     winlog.Uint32(uint32(1000 + i)),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
