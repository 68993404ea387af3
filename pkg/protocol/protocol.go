// Package protocol defines the closed set of fishery interaction protocols
// and the typed JSON bodies each one carries.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Protocol identifies the interaction type of a message.
type Protocol string

const (
	IfCanEnterRequest        Protocol = "if_can_enter_request"
	IfCanEnterResponse       Protocol = "if_can_enter_response"
	IfCanTakeFishRequest     Protocol = "if_can_take_fish_request"
	IfCanTakeFishResponse    Protocol = "if_can_take_fish_response"
	RegisterExitRequest      Protocol = "register_exit_request"
	RegisterExitResponse     Protocol = "register_exit_response"
	RegisterFishDataRequest  Protocol = "register_fish_data_request"
	RegisterFishDataResponse Protocol = "register_fish_data_response"
	SendNeedsStockingAlarm   Protocol = "send_needs_stocking_alarm"
	SendWaterQualityAlarm    Protocol = "send_water_quality_alarm"
)

var known = map[Protocol]Protocol{
	IfCanEnterRequest:       IfCanEnterResponse,
	IfCanTakeFishRequest:    IfCanTakeFishResponse,
	RegisterExitRequest:     RegisterExitResponse,
	RegisterFishDataRequest: RegisterFishDataResponse,
	SendNeedsStockingAlarm:  SendNeedsStockingAlarm,
	SendWaterQualityAlarm:   SendWaterQualityAlarm,
}

// ErrMalformedBody is returned when a body cannot be decoded for its protocol.
var ErrMalformedBody = errors.New("malformed message body")

// ErrUnknownProtocol is returned for protocol strings outside the closed set.
var ErrUnknownProtocol = errors.New("unknown protocol")

func (p Protocol) String() string { return string(p) }

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	if _, ok := known[p]; ok {
		return true
	}
	for _, resp := range known {
		if resp == p {
			return true
		}
	}
	return false
}

// Response returns the protocol a reply to p carries. Alarms are
// acknowledged under their own protocol.
func (p Protocol) Response() Protocol {
	if r, ok := known[p]; ok {
		return r
	}
	return p
}

// FishermanData identifies a fisherman in an entrance request.
type FishermanData struct {
	JID string `json:"jid"`
}

// EnterRequest is the body of if_can_enter_request.
type EnterRequest struct {
	FishermanData FishermanData `json:"fisherman_data"`
}

// EnterResponse is the body of if_can_enter_response.
type EnterResponse struct {
	Allow   bool   `json:"allow"`
	Message string `json:"message"`
}

// Fish describes a single fish.
type Fish struct {
	Species string  `json:"species"`
	Size    float64 `json:"size"`
	Mass    float64 `json:"mass"`
}

// TakeFishRequest is the body of if_can_take_fish_request.
type TakeFishRequest = Fish

// TakeFishResponse is the body of if_can_take_fish_response.
type TakeFishResponse struct {
	Allow   bool   `json:"allow"`
	Message string `json:"message"`
}

// ExitRequest is the body of register_exit_request.
type ExitRequest struct {
	Fisherman   string    `json:"fisherman"`
	FishesTaken int       `json:"fishes_taken"`
	ExitTime    time.Time `json:"exit_time"`
}

// ExitResponse is the body of register_exit_response.
type ExitResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Message      string `json:"message"`
}

// FishData is the body of register_fish_data_request.
type FishData struct {
	Species string    `json:"species"`
	Size    float64   `json:"size"`
	Mass    float64   `json:"mass"`
	Time    time.Time `json:"time"`
}

// FishDataResponse is the body of register_fish_data_response.
type FishDataResponse struct {
	Registered bool   `json:"registered"`
	Message    string `json:"message"`
}

// StockingAlarm is the body of send_needs_stocking_alarm.
type StockingAlarm struct {
	ZScore  float64 `json:"z_score"`
	Message string  `json:"message"`
}

// WaterQualityAlarm is the body of send_water_quality_alarm.
type WaterQualityAlarm struct {
	ZScore float64   `json:"z_score"`
	PHData []float64 `json:"ph_data"`
}

// AlarmAck acknowledges either alarm.
type AlarmAck struct {
	Received bool `json:"received"`
}

// Encode marshals a body to its wire string.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	return string(b), nil
}

// MustEncode is Encode for bodies that cannot fail to marshal.
func MustEncode(v any) string {
	s, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return s
}

// DecodeInto unmarshals body into v, wrapping failures in ErrMalformedBody.
func DecodeInto(body string, v any) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}

// Decode unmarshals body into the typed value belonging to protocol p and
// returns it as one of the body types above.
func Decode(p Protocol, body string) (any, error) {
	var v any
	switch p {
	case IfCanEnterRequest:
		v = &EnterRequest{}
	case IfCanEnterResponse:
		v = &EnterResponse{}
	case IfCanTakeFishRequest:
		v = &TakeFishRequest{}
	case IfCanTakeFishResponse:
		v = &TakeFishResponse{}
	case RegisterExitRequest:
		v = &ExitRequest{}
	case RegisterExitResponse:
		v = &ExitResponse{}
	case RegisterFishDataRequest:
		v = &FishData{}
	case RegisterFishDataResponse:
		v = &FishDataResponse{}
	case SendNeedsStockingAlarm:
		v = &StockingAlarm{}
	case SendWaterQualityAlarm:
		v = &WaterQualityAlarm{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, p)
	}
	if err := DecodeInto(body, v); err != nil {
		return nil, err
	}
	return v, nil
}
