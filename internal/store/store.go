package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pharmacy/internal/auth"
	"pharmacy/pkg/catalog"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
	"pharmacy/pkg/storage"
)

// command envelopes one operation for the store goroutine.
type command struct {
	action       string
	id           string
	email        string
	profile      patient.Profile
	hash         string
	update       patient.Update
	placement    order.Placement
	status       order.Status
	prescription patient.Prescription
	quantity     int
	reply        chan result
}

// result carries whatever the operation produced.
type result struct {
	products      []catalog.Product
	product       catalog.Product
	patient       patientRecord
	admin         Admin
	order         order.Order
	orders        []order.Order
	prescription  patient.Prescription
	prescriptions []patient.Prescription
	err           error
}

// Store owns the backend state.
type Store struct {
	kv       storage.Store
	logger   logrus.FieldLogger
	cost     int
	timeout  time.Duration
	now      func() time.Time
	commands chan command
	quit     chan struct{}
	stop     sync.Once
	state    state
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBcryptCost sets the cost used for password hashes.
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// WithClock overrides time.Now for order dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open restores the state saved in kv, seeding a fresh catalog when there is
// none, and starts the store goroutine.
func Open(ctx context.Context, kv storage.Store, opts ...Option) (*Store, error) {
	s := &Store{
		kv:       kv,
		timeout:  2 * time.Second,
		now:      time.Now,
		commands: make(chan command),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}

	err := storage.GetJSON(ctx, kv, StateKey, &s.state)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.state, err = seedState(s.cost)
		if err != nil {
			return nil, errors.Wrap(err, "seed state")
		}
		if err := storage.SetJSON(ctx, kv, StateKey, s.state); err != nil {
			return nil, errors.Wrap(err, "persist seed state")
		}
		s.logger.WithField("products", len(s.state.Products)).Info("seeded backend state")
	case err != nil:
		return nil, errors.Wrap(err, "load backend state")
	}
	go s.loop()
	return s, nil
}

// loop processes commands sequentially so no mutexes are needed.
func (s *Store) loop() {
	for {
		select {
		case cmd := <-s.commands:
			res := s.apply(cmd)
			cmd.reply <- res
		case <-s.quit:
			return
		}
	}
}

func (s *Store) apply(cmd command) result {
	switch cmd.action {
	case "products":
		return result{products: append([]catalog.Product(nil), s.state.Products...)}
	case "product":
		p, err := catalog.Find(s.state.Products, cmd.id)
		return result{product: p, err: err}
	case "patient":
		i := s.patientIndex(cmd.id)
		if i < 0 {
			return result{err: errors.Wrapf(ErrNotFound, "patient %s", cmd.id)}
		}
		return result{patient: s.state.Patients[i]}
	case "patientByEmail":
		for _, rec := range s.state.Patients {
			if strings.EqualFold(rec.Profile.Email, cmd.email) {
				return result{patient: rec}
			}
		}
		return result{err: ErrInvalidCredentials}
	case "insertPatient":
		for _, rec := range s.state.Patients {
			if strings.EqualFold(rec.Profile.Email, cmd.profile.Email) {
				return result{err: newValidationError("Email already registered")}
			}
		}
		rec := patientRecord{Profile: cmd.profile, PasswordHash: cmd.hash}
		rec.Profile.PatientID = "PAT-" + shortID()
		s.state.Patients = append(s.state.Patients, rec)
		s.persist()
		return result{patient: rec}
	case "updatePatient":
		i := s.patientIndex(cmd.id)
		if i < 0 {
			return result{err: errors.Wrapf(ErrNotFound, "patient %s", cmd.id)}
		}
		s.state.Patients[i].Profile = cmd.update.Apply(s.state.Patients[i].Profile)
		s.persist()
		return result{patient: s.state.Patients[i]}
	case "admin":
		for _, a := range s.state.Admins {
			if a.Username == cmd.id {
				return result{admin: a}
			}
		}
		return result{err: ErrInvalidCredentials}
	case "placeOrder":
		return s.placeOrder(cmd.placement)
	case "setStock":
		if cmd.quantity < 0 {
			return result{err: newValidationError("stock quantity cannot be negative")}
		}
		for i := range s.state.Products {
			if s.state.Products[i].ID == cmd.id {
				s.state.Products[i].StockQuantity = cmd.quantity
				s.persist()
				return result{product: s.state.Products[i]}
			}
		}
		return result{err: errors.Wrapf(ErrNotFound, "product %s", cmd.id)}
	case "patientOrders":
		var out []order.Order
		for _, o := range s.state.Orders {
			if o.PatientID == cmd.id {
				out = append(out, o)
			}
		}
		return result{orders: out}
	case "allOrders":
		out := append([]order.Order(nil), s.state.Orders...)
		// Orders are appended in placement order; reverse for newest first.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return result{orders: out}
	case "updateStatus":
		for i := range s.state.Orders {
			if s.state.Orders[i].ID != cmd.id {
				continue
			}
			if err := order.ValidateTransition(s.state.Orders[i].Status, cmd.status); err != nil {
				return result{err: err}
			}
			s.state.Orders[i].Status = cmd.status
			s.persist()
			return result{order: s.state.Orders[i]}
		}
		return result{err: errors.Wrapf(ErrNotFound, "order %s", cmd.id)}
	case "addPrescription":
		rx := cmd.prescription
		rx.ID = len(s.state.Prescriptions) + 1
		rx.UploadedAt = s.now().UTC().Format(time.RFC3339)
		rx.Verified = true
		s.state.Prescriptions = append(s.state.Prescriptions, rx)
		if i := s.patientIndex(rx.PatientID); i >= 0 {
			s.state.Patients[i].Profile.PrescriptionUploaded = true
		}
		s.persist()
		return result{prescription: rx}
	case "prescriptions":
		var out []patient.Prescription
		for _, rx := range s.state.Prescriptions {
			if rx.PatientID == cmd.id {
				out = append(out, rx)
			}
		}
		return result{prescriptions: out}
	default:
		return result{err: errors.Errorf("unknown store action %s", cmd.action)}
	}
}

func (s *Store) placeOrder(p order.Placement) result {
	if err := p.Validate(); err != nil {
		return result{err: newValidationError("%s", err.Error())}
	}
	pi := -1
	for i := range s.state.Products {
		if s.state.Products[i].ID == p.ProductID {
			pi = i
			break
		}
	}
	if pi < 0 {
		return result{err: newValidationError("Product not found")}
	}
	product := &s.state.Products[pi]
	if product.StockQuantity < p.Quantity {
		return result{err: newValidationError("Insufficient stock. Available: %d", product.StockQuantity)}
	}

	patientName := "Unknown"
	if i := s.patientIndex(p.PatientID); i >= 0 {
		patientName = s.state.Patients[i].Profile.Name
	}
	o := order.Order{
		ID:              "ORD-" + shortID(),
		PatientID:       p.PatientID,
		PatientName:     patientName,
		ProductID:       product.ID,
		ProductName:     product.Name,
		Quantity:        p.Quantity,
		TotalPrice:      product.Price.Mul(decimal.NewFromInt(int64(p.Quantity))),
		PurchaseDate:    s.now().UTC().Format(time.RFC3339),
		DosageFrequency: string(dosageFor(p, *product)),
		Status:          order.StatusConfirmed,
	}
	product.StockQuantity -= p.Quantity
	s.state.Orders = append(s.state.Orders, o)
	s.persist()
	return result{order: o}
}

// dosageFor prefers the frequency the patient gave, then the product's usual one.
func dosageFor(p order.Placement, product catalog.Product) order.Frequency {
	if p.DosageFrequency != "" {
		return p.DosageFrequency
	}
	if f := order.Frequency(product.DosageFrequency); order.KnownFrequency(f) {
		return f
	}
	return order.AsNeeded
}

func (s *Store) patientIndex(id string) int {
	for i := range s.state.Patients {
		if s.state.Patients[i].Profile.PatientID == id {
			return i
		}
	}
	return -1
}

// persist mirrors the state to the key/value store. A failed write is logged;
// the in-memory state stays authoritative.
func (s *Store) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := storage.SetJSON(ctx, s.kv, StateKey, s.state); err != nil {
		s.logger.WithError(err).Warn("backend state persist failed")
	}
}

func (s *Store) do(ctx context.Context, cmd command) (result, error) {
	cmd.reply = make(chan result, 1)
	select {
	case <-s.quit:
		return result{}, ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
	case <-s.quit:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-time.After(s.timeout):
		return result{}, errors.New("store queue is busy")
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// Products lists the catalog.
func (s *Store) Products(ctx context.Context) ([]catalog.Product, error) {
	res, err := s.do(ctx, command{action: "products"})
	return res.products, err
}

// Product finds one catalog entry.
func (s *Store) Product(ctx context.Context, id string) (catalog.Product, error) {
	res, err := s.do(ctx, command{action: "product", id: id})
	return res.product, err
}

// SetStock overwrites a product's stock level.
func (s *Store) SetStock(ctx context.Context, id string, quantity int) (catalog.Product, error) {
	res, err := s.do(ctx, command{action: "setStock", id: id, quantity: quantity})
	if err != nil {
		return catalog.Product{}, err
	}
	s.logger.WithFields(logrus.Fields{"product_id": id, "stock_quantity": quantity}).Info("stock updated")
	return res.product, nil
}

// Register creates a patient account.
func (s *Store) Register(ctx context.Context, reg patient.Registration) (patient.Profile, error) {
	if err := reg.Validate(); err != nil {
		return patient.Profile{}, newValidationError("%s", err.Error())
	}
	hash, err := auth.HashPassword(reg.Password, s.cost)
	if err != nil {
		return patient.Profile{}, err
	}
	profile := patient.Profile{
		Name:      strings.TrimSpace(reg.Name),
		Email:     strings.TrimSpace(reg.Email),
		Phone:     strings.TrimSpace(reg.Phone),
		Age:       reg.Age,
		Gender:    reg.Gender,
		Allergies: []string{},
	}
	res, err := s.do(ctx, command{action: "insertPatient", profile: profile, hash: hash})
	if err != nil {
		return patient.Profile{}, err
	}
	s.logger.WithField("patient_id", res.patient.Profile.PatientID).Info("patient registered")
	return res.patient.Profile, nil
}

// Authenticate checks a patient's email and password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (patient.Profile, error) {
	res, err := s.do(ctx, command{action: "patientByEmail", email: strings.TrimSpace(email)})
	if err != nil {
		return patient.Profile{}, err
	}
	if !auth.CheckPassword(res.patient.PasswordHash, password) {
		return patient.Profile{}, ErrInvalidCredentials
	}
	return res.patient.Profile, nil
}

// AuthenticateAdmin checks operator credentials.
func (s *Store) AuthenticateAdmin(ctx context.Context, username, password string) (Admin, error) {
	res, err := s.do(ctx, command{action: "admin", id: strings.TrimSpace(username)})
	if err != nil {
		return Admin{}, err
	}
	if !auth.CheckPassword(res.admin.PasswordHash, password) {
		return Admin{}, ErrInvalidCredentials
	}
	return res.admin, nil
}

// Patient returns a profile.
func (s *Store) Patient(ctx context.Context, id string) (patient.Profile, error) {
	res, err := s.do(ctx, command{action: "patient", id: id})
	return res.patient.Profile, err
}

// UpdatePatient applies the set fields of upd.
func (s *Store) UpdatePatient(ctx context.Context, id string, upd patient.Update) (patient.Profile, error) {
	res, err := s.do(ctx, command{action: "updatePatient", id: id, update: upd})
	return res.patient.Profile, err
}

// PlaceOrder registers one order line and decrements stock.
func (s *Store) PlaceOrder(ctx context.Context, p order.Placement) (order.Order, error) {
	res, err := s.do(ctx, command{action: "placeOrder", placement: p})
	if err != nil {
		return order.Order{}, err
	}
	s.logger.WithFields(logrus.Fields{"order_id": res.order.ID, "patient_id": p.PatientID, "product_id": p.ProductID}).
		Info("order placed")
	return res.order, nil
}

// PatientOrders lists a patient's orders, oldest first.
func (s *Store) PatientOrders(ctx context.Context, patientID string) ([]order.Order, error) {
	res, err := s.do(ctx, command{action: "patientOrders", id: patientID})
	return res.orders, err
}

// AllOrders returns every order, newest first, with the aggregate counts.
func (s *Store) AllOrders(ctx context.Context) (order.Listing, error) {
	res, err := s.do(ctx, command{action: "allOrders"})
	if err != nil {
		return order.Listing{}, err
	}
	return order.NewListing(res.orders), nil
}

// UpdateOrderStatus moves an order along its lifecycle.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status order.Status) (order.Order, error) {
	res, err := s.do(ctx, command{action: "updateStatus", id: id, status: status})
	if err != nil {
		return order.Order{}, err
	}
	s.logger.WithFields(logrus.Fields{"order_id": id, "status": status}).Info("order status changed")
	return res.order, nil
}

// AddPrescription records an upload and flags the patient.
func (s *Store) AddPrescription(ctx context.Context, patientID, fileName, extracted string) (patient.Prescription, error) {
	rx := patient.Prescription{
		PatientID:     patientID,
		FileURL:       fmt.Sprintf("/uploads/%s/%s", patientID, fileName),
		ExtractedText: extracted,
	}
	res, err := s.do(ctx, command{action: "addPrescription", prescription: rx})
	return res.prescription, err
}

// Prescriptions lists a patient's uploads.
func (s *Store) Prescriptions(ctx context.Context, patientID string) ([]patient.Prescription, error) {
	res, err := s.do(ctx, command{action: "prescriptions", id: patientID})
	return res.prescriptions, err
}

// Close stops the store goroutine.
func (s *Store) Close() {
	s.stop.Do(func() { close(s.quit) })
}

func shortID() string {
	return strings.ToUpper(uuid.NewString()[:8])
}
