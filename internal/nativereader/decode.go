package nativereader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// ErrMalformedRecord is returned when an exported line is not a valid record
var ErrMalformedRecord = errors.New("malformed record")

// decodeRecord converts one exported JSON object into a record.
// eventId and eventRecordId are required; every other field is optional.
func decodeRecord(p *fastjson.Parser, line []byte) (*winlog.EventRecord, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedRecord, v.Type())
	}

	rec := &winlog.EventRecord{
		ProviderName: string(v.GetStringBytes("providerName")),
		ProviderGUID: string(v.GetStringBytes("providerGuid")),
		Channel:      string(v.GetStringBytes("channel")),
		Computer:     string(v.GetStringBytes("computer")),
		EventName:    string(v.GetStringBytes("eventName")),
		Level:        v.GetInt64("level"),
		Task:         v.GetInt64("task"),
		Opcode:       v.GetInt64("opcode"),
	}

	idVal := v.Get("eventId")
	if idVal == nil {
		return nil, fmt.Errorf("%w: missing eventId", ErrMalformedRecord)
	}
	if rec.EventID, err = idVal.Int64(); err != nil {
		return nil, fmt.Errorf("%w: eventId: %v", ErrMalformedRecord, err)
	}

	seqVal := v.Get("eventRecordId")
	if seqVal == nil {
		return nil, fmt.Errorf("%w: missing eventRecordId", ErrMalformedRecord)
	}
	if rec.EventRecordID, err = seqVal.Uint64(); err != nil {
		return nil, fmt.Errorf("%w: eventRecordId: %v", ErrMalformedRecord, err)
	}

	if rec.Keywords, err = decodeKeywords(v.Get("keywords")); err != nil {
		return nil, err
	}
	if rec.TimeCreated, err = decodeTime(v.Get("timeCreated")); err != nil {
		return nil, fmt.Errorf("%w: timeCreated: %v", ErrMalformedRecord, err)
	}
	if rec.TimeWritten, err = decodeTime(v.Get("timeWritten")); err != nil {
		return nil, fmt.Errorf("%w: timeWritten: %v", ErrMalformedRecord, err)
	}
	if rec.ProcessID, err = decodeOptionalID(v.Get("processId")); err != nil {
		return nil, fmt.Errorf("%w: processId: %v", ErrMalformedRecord, err)
	}
	if rec.ThreadID, err = decodeOptionalID(v.Get("threadId")); err != nil {
		return nil, fmt.Errorf("%w: threadId: %v", ErrMalformedRecord, err)
	}

	return rec, nil
}

// decodeKeywords accepts a number or a string such as "0x8020000000000000".
func decodeKeywords(v *fastjson.Value) (uint64, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return 0, nil
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		kw, err := v.Uint64()
		if err != nil {
			return 0, fmt.Errorf("%w: keywords: %v", ErrMalformedRecord, err)
		}
		return kw, nil
	case fastjson.TypeString:
		kw, err := strconv.ParseUint(string(v.GetStringBytes()), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: keywords: %v", ErrMalformedRecord, err)
		}
		return kw, nil
	default:
		return 0, fmt.Errorf("%w: keywords: unexpected %s", ErrMalformedRecord, v.Type())
	}
}

// decodeTime accepts an RFC 3339 string or Unix milliseconds.
func decodeTime(v *fastjson.Value) (time.Time, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return time.Time{}, nil
	}
	switch v.Type() {
	case fastjson.TypeString:
		return time.Parse(time.RFC3339Nano, string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		ms, err := v.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected %s", v.Type())
	}
}

func decodeOptionalID(v *fastjson.Value) (*uint32, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return nil, nil
	}
	n, err := v.Uint64()
	if err != nil {
		return nil, err
	}
	if n > math.MaxUint32 {
		return nil, fmt.Errorf("%d out of range", n)
	}
	return winlog.Uint32(uint32(n)), nil
}

// WriteExport writes records to w in the export format read by File:
// one JSON object per line.
func WriteExport(w io.Writer, records []*winlog.EventRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", rec.EventRecordID, err)
		}
	}
	return nil
}
