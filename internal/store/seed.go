package store

import (
	"github.com/shopspring/decimal"

	"pharmacy/internal/auth"
	"pharmacy/pkg/catalog"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
	"pharmacy/pkg/session"
)

func seedProducts() []catalog.Product {
	p := func(id, name, price, pkg string, stock int, rx bool, ingredient, category, maker, desc string) catalog.Product {
		return catalog.Product{
			ID:                   id,
			Name:                 name,
			Price:                decimal.RequireFromString(price),
			Description:          desc,
			PackageSize:          pkg,
			StockQuantity:        stock,
			PrescriptionRequired: rx,
			ActiveIngredient:     ingredient,
			Category:             category,
			Manufacturer:         maker,
		}
	}
	products := []catalog.Product{
		p("MED001", "Paracetamol 500mg", "25", "15 tablets", 200, false, "Paracetamol", "Pain Relief", "Cipla", "Fever and mild pain relief"),
		p("MED002", "Ibuprofen 400mg", "40", "10 tablets", 150, false, "Ibuprofen", "Pain Relief", "Abbott", "Anti-inflammatory pain relief"),
		p("MED003", "Amoxicillin 500mg", "120", "10 capsules", 80, true, "Amoxicillin", "Antibiotic", "Sun Pharma", "Broad-spectrum antibiotic"),
		p("MED004", "Azithromycin 500mg", "95.5", "3 tablets", 60, true, "Azithromycin", "Antibiotic", "Cipla", "Macrolide antibiotic"),
		p("MED005", "Metformin 500mg", "45", "20 tablets", 120, true, "Metformin", "Diabetes", "Glenmark", "Blood sugar control"),
		p("MED006", "Atorvastatin 10mg", "110", "15 tablets", 90, true, "Atorvastatin", "Cardiac", "Dr. Reddy's", "Cholesterol management"),
		p("MED007", "Cetirizine 10mg", "30", "10 tablets", 180, false, "Cetirizine", "Allergy", "Dr. Reddy's", "Antihistamine for allergies"),
		p("MED008", "Pantoprazole 40mg", "85", "15 tablets", 100, false, "Pantoprazole", "Gastro", "Alkem", "Acidity and reflux relief"),
		p("MED009", "Salbutamol Inhaler", "150", "200 doses", 40, true, "Salbutamol", "Respiratory", "Cipla", "Bronchodilator inhaler"),
		p("MED010", "Vitamin D3 60000 IU", "60", "4 capsules", 140, false, "Cholecalciferol", "Vitamins", "Mankind", "Weekly vitamin D supplement"),
		p("MED011", "Antiseptic Liquid", "75", "100 ml", 70, false, "Chloroxylenol", "First Aid", "Reckitt", "Wound and skin antiseptic"),
		p("MED012", "Levothyroxine 50mcg", "130", "100 tablets", 50, true, "Levothyroxine", "Thyroid", "Abbott", "Thyroid hormone replacement"),
	}
	for i := range products {
		products[i].DosageFrequency = string(usualDosage(products[i].ID))
	}
	return products
}

// usualDosage is the frequency recorded on orders that do not name one.
func usualDosage(id string) order.Frequency {
	switch id {
	case "MED003":
		return order.ThreeTimesDaily
	case "MED005":
		return order.TwiceDaily
	case "MED004", "MED006", "MED007", "MED008", "MED012":
		return order.OnceDaily
	case "MED010":
		return order.OnceWeekly
	default:
		return order.AsNeeded
	}
}

type seedAdmin struct {
	username, password, name, role string
}

var defaultAdmins = []seedAdmin{
	{"admin", "nexus2026", "Dr. Pharmacist Admin", "admin"},
	{"pharmacist", "pharma123", "Senior Pharmacist", "pharmacist"},
}

// seedState builds the initial catalog, operators and the default patient.
func seedState(cost int) (state, error) {
	st := state{Products: seedProducts()}
	for _, a := range defaultAdmins {
		hash, err := auth.HashPassword(a.password, cost)
		if err != nil {
			return state{}, err
		}
		st.Admins = append(st.Admins, Admin{Username: a.username, Name: a.name, Role: a.role, PasswordHash: hash})
	}
	hash, err := auth.HashPassword("demo1234", cost)
	if err != nil {
		return state{}, err
	}
	st.Patients = append(st.Patients, patientRecord{
		Profile: patient.Profile{
			PatientID: session.DefaultPatientID,
			Name:      "Demo Patient",
			Email:     "demo@nexus.health",
			Phone:     "9000000000",
			Allergies: []string{},
		},
		PasswordHash: hash,
	})
	return st, nil
}
