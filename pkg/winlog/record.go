package winlog

import (
	"time"
)

// EventRecord represents a single decoded entry from an event-log channel.
// Records are produced by a NativeReader and are never modified afterwards.
type EventRecord struct {
	// EventID is the numeric event identifier (meaning is channel specific)
	EventID int64 `json:"eventId"`

	// ProviderName is the name of the source that raised the event
	ProviderName string `json:"providerName"`

	// ProviderGUID is the provider's GUID, empty when the provider has none
	ProviderGUID string `json:"providerGuid,omitempty"`

	// Channel is the channel the event was logged to, empty when unknown
	Channel string `json:"channel,omitempty"`

	// Computer is the name of the machine that logged the event
	Computer string `json:"computer"`

	// TimeCreated is when the event was recorded
	TimeCreated time.Time `json:"timeCreated"`

	// TimeWritten is when the event was written to the log store, zero when not reported
	TimeWritten time.Time `json:"timeWritten,omitempty"`

	// EventName is the rendered event name, empty when the provider supplies none
	EventName string `json:"eventName,omitempty"`

	// Severity and classification bitfields, opaque to this package
	Level    int64  `json:"level"`
	Task     int64  `json:"task"`
	Opcode   int64  `json:"opcode"`
	Keywords uint64 `json:"keywords"`

	// EventRecordID is the per-channel sequence number assigned by the log store
	EventRecordID uint64 `json:"eventRecordId"`

	// ProcessID and ThreadID are nil when the originating process/thread could not be resolved
	ProcessID *uint32 `json:"processId"`
	ThreadID  *uint32 `json:"threadId"`
}

// Clone returns a deep copy of the record.
// Useful when a caller needs to hold onto a record it intends to modify.
func (r *EventRecord) Clone() *EventRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.ProcessID != nil {
		pid := *r.ProcessID
		cp.ProcessID = &pid
	}
	if r.ThreadID != nil {
		tid := *r.ThreadID
		cp.ThreadID = &tid
	}
	return &cp
}

// Uint32 returns a pointer to v, for populating the optional ProcessID and ThreadID fields.
func Uint32(v uint32) *uint32 {
	return &v
}
