// Package matchquality scores how well an identifier bundle is likely to
// match a platform user. Both the server's authoritative Score and the
// client's pre-send Estimate read the same weight table, so the two can be
// checked against one fixture set.
package matchquality

// Signal is one scored identifier.
type Signal int

const (
	Email Signal = iota
	Phone
	ExternalID
	ClickID
	FirstName
	LastName
	BrowserID
	IP
	City
	Zip
	DateOfBirth
	State
	Country
	Gender
	UserAgent

	numSignals
)

// Weights is the per-signal contribution.
var Weights = [numSignals]int{
	Email:       30,
	Phone:       25,
	ExternalID:  15,
	ClickID:     10,
	FirstName:   5,
	LastName:    5,
	BrowserID:   5,
	IP:          3,
	City:        3,
	Zip:         3,
	DateOfBirth: 3,
	State:       2,
	Country:     2,
	Gender:      2,
	UserAgent:   2,
}

const (
	// ExtraValuePoints is awarded per secondary email or phone.
	ExtraValuePoints = 3
	// ExtraValueCap bounds the secondary bonus per list.
	ExtraValueCap = 9
	// GeoBonus is added when at least GeoMinFields location fields are present.
	GeoBonus     = 5
	GeoMinFields = 3
	MaxScore     = 100
)

// Presence is the scorer's only input: which signals are set and how many
// secondary list values exist.
type Presence struct {
	Has         [numSignals]bool
	ExtraEmails int
	ExtraPhones int
}

func (p *Presence) set(s Signal, v string) {
	if v != "" {
		p.Has[s] = true
	}
}

func (p Presence) compute() int {
	total := 0
	for s, ok := range p.Has {
		if ok {
			total += Weights[s]
		}
	}
	total += extraBonus(p.ExtraEmails)
	total += extraBonus(p.ExtraPhones)

	geo := 0
	for _, s := range []Signal{City, State, Zip, Country} {
		if p.Has[s] {
			geo++
		}
	}
	if geo >= GeoMinFields {
		total += GeoBonus
	}
	if total > MaxScore {
		return MaxScore
	}
	return total
}

func extraBonus(n int) int {
	if n <= 0 {
		return 0
	}
	b := n * ExtraValuePoints
	if b > ExtraValueCap {
		return ExtraValueCap
	}
	return b
}
