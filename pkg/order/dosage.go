package order

import "github.com/shopspring/decimal"

// Frequency is how often a patient takes one unit of a medicine.
type Frequency string

const (
	OnceDaily       Frequency = "once_daily"
	TwiceDaily      Frequency = "twice_daily"
	ThreeTimesDaily Frequency = "three_times_daily"
	OnceWeekly      Frequency = "once_weekly"
	AsNeeded        Frequency = "as_needed"
)

// daysPerUnit is how long one unit lasts at each frequency. As-needed use is
// assumed to consume a unit every three days.
var daysPerUnit = map[Frequency]decimal.Decimal{
	OnceDaily:       decimal.NewFromInt(1),
	TwiceDaily:      decimal.RequireFromString("0.5"),
	ThreeTimesDaily: decimal.RequireFromString("0.333"),
	OnceWeekly:      decimal.NewFromInt(7),
	AsNeeded:        decimal.NewFromInt(3),
}

// KnownFrequency reports whether f is part of the dosage vocabulary.
func KnownFrequency(f Frequency) bool {
	_, ok := daysPerUnit[f]
	return ok
}

// DaysOfSupply is how many days quantity units last at f. Unknown
// frequencies count as once daily.
func DaysOfSupply(f Frequency, quantity int) decimal.Decimal {
	per, ok := daysPerUnit[f]
	if !ok {
		per = daysPerUnit[OnceDaily]
	}
	return per.Mul(decimal.NewFromInt(int64(quantity)))
}
