package grpcapi

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Messages are google.protobuf.Struct values. 64-bit unsigned fields travel
// as decimal strings, as in the proto3 JSON mapping, so they survive the
// float64 representation of Struct numbers.

// ReadRequest is the decoded body of a Read call.
type ReadRequest struct {
	Channel string
	Options winlog.ReadOptions
	// Limit stops the stream after this many records, 0 for no limit
	Limit int
}

// encodeReadRequest builds the Struct sent by clients.
func encodeReadRequest(req ReadRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"channel":   structpb.NewStringValue(req.Channel),
		"direction": structpb.NewStringValue(string(req.Options.Direction)),
		"query":     structpb.NewStringValue(req.Options.Query),
		"limit":     structpb.NewNumberValue(float64(req.Limit)),
	}}
}

// decodeReadRequest parses a Read body. Malformed fields are reported as
// *winlog.ConfigError.
func decodeReadRequest(s *structpb.Struct) (ReadRequest, error) {
	f := s.GetFields()
	req := ReadRequest{
		Channel: f["channel"].GetStringValue(),
		Options: winlog.ReadOptions{Query: f["query"].GetStringValue()},
	}

	if raw := f["direction"].GetStringValue(); raw != "" {
		d, err := winlog.ParseDirection(raw)
		if err != nil {
			return req, err
		}
		req.Options.Direction = d
	}

	if v, ok := f["limit"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return req, &winlog.ConfigError{Field: "limit", Value: strconv.FormatFloat(n, 'f', -1, 64), Err: fmt.Errorf("must be a non-negative integer")}
		}
		req.Limit = int(n)
	}
	return req, nil
}

func encodeChannels(infos []winlog.ChannelInfo) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(infos))
	for _, c := range infos {
		list = append(list, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":     structpb.NewStringValue(c.Name),
			"nativeId": structpb.NewStringValue(c.NativeID),
			"custom":   structpb.NewBoolValue(c.Custom),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"channels": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

func decodeChannels(s *structpb.Struct) []winlog.ChannelInfo {
	values := s.GetFields()["channels"].GetListValue().GetValues()
	infos := make([]winlog.ChannelInfo, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		infos = append(infos, winlog.ChannelInfo{
			Name:     f["name"].GetStringValue(),
			NativeID: f["nativeId"].GetStringValue(),
			Custom:   f["custom"].GetBoolValue(),
		})
	}
	return infos
}

// encodeRecord converts a record into the Struct sent on the Read stream.
func encodeRecord(rec *winlog.EventRecord) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"eventId":       structpb.NewNumberValue(float64(rec.EventID)),
		"providerName":  structpb.NewStringValue(rec.ProviderName),
		"providerGuid":  structpb.NewStringValue(rec.ProviderGUID),
		"channel":       structpb.NewStringValue(rec.Channel),
		"computer":      structpb.NewStringValue(rec.Computer),
		"timeCreated":   structpb.NewStringValue(rec.TimeCreated.UTC().Format(time.RFC3339Nano)),
		"eventName":     structpb.NewStringValue(rec.EventName),
		"level":         structpb.NewNumberValue(float64(rec.Level)),
		"task":          structpb.NewNumberValue(float64(rec.Task)),
		"opcode":        structpb.NewNumberValue(float64(rec.Opcode)),
		"keywords":      structpb.NewStringValue(strconv.FormatUint(rec.Keywords, 10)),
		"eventRecordId": structpb.NewStringValue(strconv.FormatUint(rec.EventRecordID, 10)),
		"processId":     optionalIDValue(rec.ProcessID),
		"threadId":      optionalIDValue(rec.ThreadID),
	}
	if !rec.TimeWritten.IsZero() {
		fields["timeWritten"] = structpb.NewStringValue(rec.TimeWritten.UTC().Format(time.RFC3339Nano))
	}
	return &structpb.Struct{Fields: fields}
}

func optionalIDValue(v *uint32) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(float64(*v))
}

// decodeRecord converts a Read stream message back into a record.
func decodeRecord(s *structpb.Struct) (*winlog.EventRecord, error) {
	f := s.GetFields()
	rec := &winlog.EventRecord{
		EventID:      int64(f["eventId"].GetNumberValue()),
		ProviderName: f["providerName"].GetStringValue(),
		ProviderGUID: f["providerGuid"].GetStringValue(),
		Channel:      f["channel"].GetStringValue(),
		Computer:     f["computer"].GetStringValue(),
		EventName:    f["eventName"].GetStringValue(),
		Level:        int64(f["level"].GetNumberValue()),
		Task:         int64(f["task"].GetNumberValue()),
		Opcode:       int64(f["opcode"].GetNumberValue()),
		ProcessID:    decodeOptionalID(f["processId"]),
		ThreadID:     decodeOptionalID(f["threadId"]),
	}

	var err error
	if rec.Keywords, err = strconv.ParseUint(f["keywords"].GetStringValue(), 10, 64); err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	if rec.EventRecordID, err = strconv.ParseUint(f["eventRecordId"].GetStringValue(), 10, 64); err != nil {
		return nil, fmt.Errorf("eventRecordId: %w", err)
	}
	if rec.TimeCreated, err = time.Parse(time.RFC3339Nano, f["timeCreated"].GetStringValue()); err != nil {
		return nil, fmt.Errorf("timeCreated: %w", err)
	}
	if v, ok := f["timeWritten"]; ok {
		if rec.TimeWritten, err = time.Parse(time.RFC3339Nano, v.GetStringValue()); err != nil {
			return nil, fmt.Errorf("timeWritten: %w", err)
		}
	}
	return rec, nil
}

func decodeOptionalID(v *structpb.Value) *uint32 {
	if v == nil {
		return nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return nil
	}
	return winlog.Uint32(uint32(v.GetNumberValue()))
}
