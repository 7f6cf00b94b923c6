package msgs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"
)

// Codec encodes and decodes messages.
type Codec interface {
	Name() string
	EncodeState(*State) ([]byte, error)
	DecodeState([]byte) (*State, error)
	EncodeEvent(*Event) ([]byte, error)
	DecodeEvent([]byte) (*Event, error)
}

// Codec names.
const (
	CodecJSON  = "json"
	CodecProto = "proto"
)

// CodecByName returns the codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecProto:
		return ProtoCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// JSONCodec encodes messages as JSON.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return CodecJSON }

// EncodeState implements Codec.
func (JSONCodec) EncodeState(st *State) ([]byte, error) { return json.Marshal(st) }

// DecodeState implements Codec.
func (JSONCodec) DecodeState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// EncodeEvent implements Codec.
func (JSONCodec) EncodeEvent(ev *Event) ([]byte, error) { return json.Marshal(ev) }

// DecodeEvent implements Codec.
func (JSONCodec) DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ProtoCodec encodes messages as protobuf google.protobuf.Struct.
type ProtoCodec struct{}

// Name implements Codec.
func (ProtoCodec) Name() string { return CodecProto }

// EncodeState implements Codec.
func (ProtoCodec) EncodeState(st *State) ([]byte, error) {
	s, err := StateStruct(st)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeState implements Codec.
func (ProtoCodec) DecodeState(data []byte) (*State, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	at, err := timeOf(s.Fields["time"])
	if err != nil {
		return nil, err
	}
	st := &State{
		Device:    s.Fields["device"].GetStringValue(),
		Time:      at,
		Connected: s.Fields["connected"].GetBoolValue(),
	}
	for _, v := range s.Fields["axes"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		st.Axes = append(st.Axes, AxisState{
			Axis:     int(f["axis"].GetNumberValue()),
			Speed:    f["speed"].GetNumberValue(),
			Angle:    f["angle"].GetNumberValue(),
			Target:   f["target"].GetNumberValue(),
			Rotating: f["rotating"].GetBoolValue(),
			Dir:      f["dir"].GetStringValue(),
		})
	}
	return st, nil
}

// EncodeEvent implements Codec.
func (ProtoCodec) EncodeEvent(ev *Event) ([]byte, error) {
	at, err := timeValue(ev.Time)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"device": stringValue(ev.Device),
		"time":   at,
		"kind":   stringValue(ev.Kind),
		"op":     stringValue(ev.Op),
	}})
}

// DecodeEvent implements Codec.
func (ProtoCodec) DecodeEvent(data []byte) (*Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	at, err := timeOf(s.Fields["time"])
	if err != nil {
		return nil, err
	}
	return &Event{
		Device: s.Fields["device"].GetStringValue(),
		Time:   at,
		Kind:   s.Fields["kind"].GetStringValue(),
		Op:     s.Fields["op"].GetStringValue(),
	}, nil
}

// StateStruct converts State to a protobuf Struct.
func StateStruct(st *State) (*structpb.Struct, error) {
	at, err := timeValue(st.Time)
	if err != nil {
		return nil, err
	}
	axes := make([]*structpb.Value, len(st.Axes))
	for i, a := range st.Axes {
		axes[i] = &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{
			Fields: map[string]*structpb.Value{
				"axis":     numberValue(float64(a.Axis)),
				"speed":    numberValue(a.Speed),
				"angle":    numberValue(a.Angle),
				"target":   numberValue(a.Target),
				"rotating": boolValue(a.Rotating),
				"dir":      stringValue(a.Dir),
			},
		}}}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"device":    stringValue(st.Device),
		"time":      at,
		"connected": boolValue(st.Connected),
		"axes":      {Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: axes}}},
	}}, nil
}

// ProtoText renders an encoded protobuf message as JSON text.
func ProtoText(data []byte) (string, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return (&jsonpb.Marshaler{}).MarshalToString(&s)
}

func numberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func stringValue(v string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}}
}

func boolValue(v bool) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: v}}
}

// timeValue stores the time as an RFC 3339 string, the JSON mapping of
// google.protobuf.Timestamp.
func timeValue(t time.Time) (*structpb.Value, error) {
	ts, err := ptypes.TimestampProto(t)
	if err != nil {
		return nil, err
	}
	return stringValue(ptypes.TimestampString(ts)), nil
}

func timeOf(v *structpb.Value) (time.Time, error) {
	s := v.GetStringValue()
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := ptypes.TimestampProto(t)
	if err != nil {
		return time.Time{}, err
	}
	return ptypes.Timestamp(ts)
}
