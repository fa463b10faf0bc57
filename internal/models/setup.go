package models

import (
	"errors"
	"fmt"
)

// ErrInvalidStrikeOrder is returned when a vertical's long strike sits on the
// wrong side of its short strike.
var ErrInvalidStrikeOrder = errors.New("invalid strike order")

// OptionType is CALL or PUT.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// Valid returns true for CALL and PUT.
func (o OptionType) Valid() bool {
	return o == Call || o == Put
}

// SpreadType identifies the structure sold.
type SpreadType string

const (
	SpreadCall        SpreadType = "CALL"
	SpreadPut         SpreadType = "PUT"
	SpreadIronCondor  SpreadType = "IRON_CONDOR"
	SpreadSkip        SpreadType = "SKIP"
	spreadTypeUnknown SpreadType = ""
)

// Band classifies how far the underlying sits from the pin.
type Band string

const (
	BandNear     Band = "near"
	BandModerate Band = "moderate"
	BandFar      Band = "far"
	BandTooFar   Band = "too_far"
)

// Vertical is one credit vertical: a short option and a further-out long option
// of the same type.
type Vertical struct {
	Type        OptionType `json:"type"`
	ShortStrike float64    `json:"short_strike"`
	LongStrike  float64    `json:"long_strike"`
}

// Width returns the distance between the two strikes.
func (v Vertical) Width() float64 {
	if v.LongStrike > v.ShortStrike {
		return v.LongStrike - v.ShortStrike
	}
	return v.ShortStrike - v.LongStrike
}

// Validate enforces credit-spread strike ordering: calls buy the higher strike,
// puts buy the lower strike.
func (v Vertical) Validate() error {
	switch v.Type {
	case Call:
		if v.LongStrike <= v.ShortStrike {
			return fmt.Errorf("%w: call long %.2f must be above short %.2f",
				ErrInvalidStrikeOrder, v.LongStrike, v.ShortStrike)
		}
	case Put:
		if v.LongStrike >= v.ShortStrike {
			return fmt.Errorf("%w: put long %.2f must be below short %.2f",
				ErrInvalidStrikeOrder, v.LongStrike, v.ShortStrike)
		}
	default:
		return fmt.Errorf("unknown option type %q", v.Type)
	}
	return nil
}

// Setup is a proposed trade produced by a strategy for one tick and one pin.
type Setup struct {
	Strategy    SpreadType `json:"strategy"`
	Band        Band       `json:"band"`
	Distance    float64    `json:"distance"`
	PinStrike   float64    `json:"pin_strike"`
	PeakRank    int        `json:"peak_rank"`
	Verticals   []Vertical `json:"verticals"`
	BrokenWing  bool       `json:"broken_wing"`
	Description string     `json:"description"`
}

// IsSkip reports whether the setup declines to trade.
func (s Setup) IsSkip() bool {
	return s.Strategy == SpreadSkip || s.Strategy == spreadTypeUnknown
}

// Validate checks strike ordering on every vertical and the shape of the setup.
func (s Setup) Validate() error {
	if s.IsSkip() {
		return nil
	}
	switch s.Strategy {
	case SpreadCall, SpreadPut:
		if len(s.Verticals) != 1 {
			return fmt.Errorf("%s setup must have one vertical, got %d", s.Strategy, len(s.Verticals))
		}
		if string(s.Verticals[0].Type) != string(s.Strategy) {
			return fmt.Errorf("%s setup carries a %s vertical", s.Strategy, s.Verticals[0].Type)
		}
	case SpreadIronCondor:
		if len(s.Verticals) != 2 {
			return fmt.Errorf("iron condor must have two verticals, got %d", len(s.Verticals))
		}
		call, put, ok := s.CondorSides()
		if !ok {
			return fmt.Errorf("iron condor must have one call and one put vertical")
		}
		if put.ShortStrike >= call.ShortStrike {
			return fmt.Errorf("%w: condor put short %.2f must be below call short %.2f",
				ErrInvalidStrikeOrder, put.ShortStrike, call.ShortStrike)
		}
	default:
		return fmt.Errorf("unknown setup strategy %q", s.Strategy)
	}
	for _, v := range s.Verticals {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CondorSides returns the call and put verticals of an iron condor.
func (s Setup) CondorSides() (call, put Vertical, ok bool) {
	var haveCall, havePut bool
	for _, v := range s.Verticals {
		switch v.Type {
		case Call:
			call, haveCall = v, true
		case Put:
			put, havePut = v, true
		}
	}
	return call, put, haveCall && havePut
}
