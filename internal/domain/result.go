package domain

import (
	"encoding/json"
	"fmt"
)

// BookingResult is the provider's confirmation for an executed booking.
// Oneway itineraries carry a single PNR, round trips always carry an onward
// and a return PNR.
type BookingResult interface {
	isBookingResult()
}

type OnewayResult struct {
	PNR string `json:"pnr"`
}

func (OnewayResult) isBookingResult() {}

type RoundTripResult struct {
	OnwardPNR string `json:"onward_pnr"`
	ReturnPNR string `json:"return_pnr"`
}

func (RoundTripResult) isBookingResult() {}

type resultEnvelope struct {
	Kind      string `json:"kind"`
	PNR       string `json:"pnr,omitempty"`
	OnwardPNR string `json:"onward_pnr,omitempty"`
	ReturnPNR string `json:"return_pnr,omitempty"`
}

const (
	resultKindOneway    = "oneway"
	resultKindRoundTrip = "round_trip"
)

// MarshalBookingResult serializes a result as tagged JSON for storage.
func MarshalBookingResult(r BookingResult) ([]byte, error) {
	switch v := r.(type) {
	case nil:
		return nil, nil
	case OnewayResult:
		return json.Marshal(resultEnvelope{Kind: resultKindOneway, PNR: v.PNR})
	case RoundTripResult:
		return json.Marshal(resultEnvelope{Kind: resultKindRoundTrip, OnwardPNR: v.OnwardPNR, ReturnPNR: v.ReturnPNR})
	default:
		return nil, fmt.Errorf("unknown booking result type %T", r)
	}
}

// UnmarshalBookingResult restores a result from its tagged JSON form.
func UnmarshalBookingResult(data []byte) (BookingResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case resultKindOneway:
		return OnewayResult{PNR: env.PNR}, nil
	case resultKindRoundTrip:
		return RoundTripResult{OnwardPNR: env.OnwardPNR, ReturnPNR: env.ReturnPNR}, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown booking result kind %q", env.Kind)
	}
}
