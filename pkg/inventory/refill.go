package inventory

import (
	"math"
	"sort"
	"time"

	"pharmacy/pkg/order"
)

// DefaultRefillWindow is how many days ahead refill alerts look.
const DefaultRefillWindow = 7

const dateOnly = "2006-01-02"

// PredictRefills looks at the latest order of every patient and product pair
// and reports the supplies that run out within window days of now. Cancelled
// orders and orders with an unreadable purchase date are ignored.
func PredictRefills(orders []order.Order, now time.Time, window int) []RefillAlert {
	type key struct{ patient, product string }
	type dated struct {
		order  order.Order
		bought time.Time
	}

	latest := make(map[key]dated)
	for _, o := range orders {
		if o.Status == order.StatusCancelled {
			continue
		}
		bought, ok := parsePurchaseDate(o.PurchaseDate)
		if !ok {
			continue
		}
		k := key{o.PatientID, o.ProductID}
		if prev, seen := latest[k]; !seen || bought.After(prev.bought) {
			latest[k] = dated{order: o, bought: bought}
		}
	}

	today := dayOf(now)
	alerts := []RefillAlert{}
	for _, d := range latest {
		supply := order.DaysOfSupply(order.Frequency(d.order.DosageFrequency), d.order.Quantity)
		days, _ := supply.Float64()
		runOut := d.bought.Add(time.Duration(days * 24 * float64(time.Hour)))

		remaining := int(math.Floor(runOut.Sub(today).Hours() / 24))
		if remaining > window {
			continue
		}
		if remaining < 0 {
			remaining = 0
		}
		alerts = append(alerts, RefillAlert{
			PatientID:     d.order.PatientID,
			PatientName:   d.order.PatientName,
			ProductID:     d.order.ProductID,
			ProductName:   d.order.ProductName,
			RunOutDate:    runOut.Format(dateOnly),
			DaysRemaining: remaining,
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].RunOutDate != alerts[j].RunOutDate {
			return alerts[i].RunOutDate < alerts[j].RunOutDate
		}
		if alerts[i].PatientID != alerts[j].PatientID {
			return alerts[i].PatientID < alerts[j].PatientID
		}
		return alerts[i].ProductID < alerts[j].ProductID
	})
	return alerts
}

// parsePurchaseDate accepts both timestamps and bare dates and keeps only the day.
func parsePurchaseDate(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, dateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return dayOf(t), true
		}
	}
	return time.Time{}, false
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
