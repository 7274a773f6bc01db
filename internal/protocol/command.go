package protocol

import (
	"bytes"
	"fmt"
)

// Request is an encoded query tagged with the kind of frame expected back.
type Request struct {
	Kind  Kind
	Bytes []byte
}

// Matches reports whether f is a valid response to r.
func (r Request) Matches(f Frame) bool {
	return f.Valid && f.Kind == r.Kind
}

// IsEcho reports whether f is the request itself read back from a line
// with local echo.
func (r Request) IsEcho(f Frame) bool {
	return bytes.Equal(f.Raw, r.Bytes)
}

// Issuer builds the queries for a rack of a fixed size.
type Issuer struct {
	codec     Codec
	batteries int
}

func NewIssuer(c Codec, batteries int) *Issuer {
	return &Issuer{codec: c, batteries: batteries}
}

func (i *Issuer) Batteries() int { return i.batteries }

// BuildSummaryQuery encodes the rack-level query.
func (i *Issuer) BuildSummaryQuery() []byte {
	return i.codec.Encode(SummaryAddress, CIDBattery, CmdSummary, nil)
}

// BuildBatteryQuery encodes the query for battery id (1..N).
func (i *Issuer) BuildBatteryQuery(id int) ([]byte, error) {
	if id < 1 || id > i.batteries {
		return nil, fmt.Errorf("protocol: battery id %d outside 1..%d", id, i.batteries)
	}
	return i.codec.Encode(byte(id), CIDBattery, CmdBattery, []byte{byte(id)}), nil
}

func (i *Issuer) SummaryRequest() Request {
	return Request{Kind: KindSummary, Bytes: i.BuildSummaryQuery()}
}

func (i *Issuer) BatteryRequest(id int) (Request, error) {
	b, err := i.BuildBatteryQuery(id)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: BatteryKind(id), Bytes: b}, nil
}
