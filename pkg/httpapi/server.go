// Package httpapi serves the pharmacy backend contract over HTTP. It is the
// reference collaborator the storefront core talks to in development and in
// end-to-end tests.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pharmacy/internal/assistant"
	"pharmacy/internal/auth"
	"pharmacy/internal/store"
	"pharmacy/pkg/catalog"
	"pharmacy/pkg/chat"
	"pharmacy/pkg/inventory"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
)

const maxUploadSize = 10 << 20

type ctxKeyLog struct{}

// TextExtractor reads prescription text out of an uploaded file.
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (string, error)
}

// NoopExtractor returns no text for every file.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string, []byte) (string, error) { return "", nil }

// Server wires HTTP endpoints to the channel-serialized backend store.
type Server struct {
	store     *store.Store
	inventory *inventory.Service
	issuer    *auth.Issuer
	extractor TextExtractor
	logger    logrus.FieldLogger
}

// New builds a server and starts its inventory service. A nil extractor
// means NoopExtractor.
func New(st *store.Store, issuer *auth.Issuer, extractor TextExtractor, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if extractor == nil {
		extractor = NoopExtractor{}
	}
	return &Server{
		store:     st,
		inventory: inventory.NewService(st, inventory.WithLogger(logger)),
		issuer:    issuer,
		extractor: extractor,
		logger:    logger,
	}
}

// Close stops the inventory service.
func (s *Server) Close() {
	s.inventory.Close()
}

// Handler exposes the routes, instrumented for tracing.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/admin/login", s.adminLogin).Methods(http.MethodPost)
	api.HandleFunc("/products", s.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.getProduct).Methods(http.MethodGet)
	api.HandleFunc("/patients/{id}", s.getPatient).Methods(http.MethodGet)
	api.HandleFunc("/patients/{id}", s.updatePatient).Methods(http.MethodPut)
	api.HandleFunc("/chat", s.chat).Methods(http.MethodPost)
	api.HandleFunc("/prescriptions/upload", s.uploadPrescription).Methods(http.MethodPost)
	api.HandleFunc("/prescriptions/{patient_id}", s.listPrescriptions).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.placeOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{patient_id}", s.patientOrders).Methods(http.MethodGet)
	api.HandleFunc("/admin/orders", s.adminOrders).Methods(http.MethodGet)
	api.HandleFunc("/admin/orders/{id}/status", s.updateOrderStatus).Methods(http.MethodPut)
	api.HandleFunc("/admin/inventory", s.listInventory).Methods(http.MethodGet)
	api.HandleFunc("/admin/inventory/{id}", s.updateInventory).Methods(http.MethodPut)
	api.HandleFunc("/admin/refill-alerts", s.refillAlerts).Methods(http.MethodGet)

	r.Use(s.logRequests)
	return otelhttp.NewHandler(r, "pharmacy-backend")
}

// logRequests attaches a request-scoped logger and records each outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.logger.WithFields(logrus.Fields{
			"http.req.id":     uuid.NewString(),
			"http.req.path":   r.URL.Path,
			"http.req.method": r.Method,
		})
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKeyLog{}, log)))
		log.WithFields(logrus.Fields{
			"http.resp.status":  rec.status,
			"http.resp.took_ms": time.Since(start).Milliseconds(),
		}).Debug("request complete")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) log(r *http.Request) logrus.FieldLogger {
	if l, ok := r.Context().Value(ctxKeyLog{}).(logrus.FieldLogger); ok {
		return l
	}
	return s.logger
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds patient.Credentials
	if !s.decode(w, r, &creds) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	profile, err := s.store.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		s.log(r).WithError(err).Info("patient login rejected")
		s.fail(w, r, err)
		return
	}
	token, err := s.issuer.GenerateToken(profile.PatientID, profile.Name, "patient")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log(r).WithField("patient_id", profile.PatientID).Info("patient logged in")
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":    "Login successful",
		"patient_id": profile.PatientID,
		"name":       profile.Name,
		"token":      token,
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var reg patient.Registration
	if !s.decode(w, r, &reg) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	profile, err := s.store.Register(ctx, reg)
	if err != nil {
		s.log(r).WithError(err).Info("registration rejected")
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":    "Registration successful",
		"patient_id": profile.PatientID,
		"name":       profile.Name,
	})
}

func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &creds) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	admin, err := s.store.AuthenticateAdmin(ctx, creds.Username, creds.Password)
	if err != nil {
		s.log(r).WithField("username", creds.Username).Info("admin login rejected")
		s.respondJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error":         "Invalid admin credentials",
			"authenticated": false,
		})
		return
	}
	token, err := s.issuer.GenerateToken(admin.Username, admin.Name, admin.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log(r).WithFields(logrus.Fields{"username": admin.Username, "role": admin.Role}).Info("admin logged in")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"message":       "Login successful",
		"name":          admin.Name,
		"role":          admin.Role,
		"token":         token,
	})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	products, err := s.store.Products(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	if search, category := q.Get("search"), q.Get("category"); search != "" || category != "" {
		products = catalog.Filter(products, category, search)
	}
	s.respondJSON(w, http.StatusOK, products)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	product, err := s.store.Product(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

func (s *Server) getPatient(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	profile, err := s.store.Patient(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, profile)
}

func (s *Server) updatePatient(w http.ResponseWriter, r *http.Request) {
	var upd patient.Update
	if !s.decode(w, r, &upd) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := mux.Vars(r)["id"]
	profile, err := s.store.UpdatePatient(ctx, id, upd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log(r).WithField("patient_id", id).Info("profile updated")
	s.respondJSON(w, http.StatusOK, profile)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondError(w, "message is required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	products, err := s.store.Products(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	orders, err := s.store.PatientOrders(ctx, req.PatientID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c := assistant.Context{Products: products, Orders: orders}
	if profile, err := s.store.Patient(ctx, req.PatientID); err == nil {
		c.Patient = &profile
	}
	reply := assistant.Respond(req, c)

	entry := s.log(r).WithFields(logrus.Fields{"patient_id": req.PatientID, "language": req.Language})
	if reply.Card != nil {
		entry = entry.WithField("card", reply.Card.CardType())
	}
	entry.Info("chat answered")
	s.respondJSON(w, http.StatusOK, reply)
}

func (s *Server) uploadPrescription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.respondError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	patientID := strings.TrimSpace(r.FormValue("patient_id"))
	if patientID == "" {
		s.respondError(w, "patient_id is required", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if !isAcceptedUpload(header.Filename) {
		s.respondError(w, "Invalid file type", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, errors.Wrap(err, "read upload"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	name := filepath.Base(header.Filename)
	text, err := s.extractor.Extract(ctx, name, data)
	if err != nil {
		s.log(r).WithError(err).Warn("prescription text extraction failed")
		text = ""
	}
	rx, err := s.store.AddPrescription(ctx, patientID, name, text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log(r).WithFields(logrus.Fields{"patient_id": patientID, "bytes": len(data)}).Info("prescription uploaded")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Prescription uploaded successfully",
		"prescription":   rx,
		"extracted_text": text,
	})
}

func (s *Server) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := s.store.Prescriptions(ctx, mux.Vars(r)["patient_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []patient.Prescription{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var p order.Placement
	if !s.decode(w, r, &p) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	placed, err := s.store.PlaceOrder(ctx, p)
	if err != nil {
		s.log(r).WithError(err).WithField("product_id", p.ProductID).Info("order rejected")
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Order placed successfully",
		"order":   placed,
	})
}

func (s *Server) patientOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, err := s.store.PatientOrders(ctx, mux.Vars(r)["patient_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "count": len(orders)})
}

func (s *Server) adminOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	listing, err := s.store.AllOrders(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if listing.Orders == nil {
		listing.Orders = []order.Order{}
	}
	s.respondJSON(w, http.StatusOK, listing)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	status, err := order.ParseStatus(body.Status)
	if err != nil {
		s.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := mux.Vars(r)["id"]
	updated, err := s.store.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		s.log(r).WithError(err).WithField("order_id", id).Info("status update rejected")
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Order " + id + " updated to " + string(status),
		"order":   updated,
	})
}

func (s *Server) listInventory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	report, err := s.inventory.Report(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) updateInventory(w http.ResponseWriter, r *http.Request) {
	var body inventory.StockUpdate
	if !s.decode(w, r, &body) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := mux.Vars(r)["id"]
	product, err := s.inventory.SetStock(ctx, id, body.StockQuantity)
	if err != nil {
		s.log(r).WithError(err).WithField("product_id", id).Info("stock update rejected")
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Stock updated",
		"product": product,
	})
}

func (s *Server) refillAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	alerts, err := s.inventory.RefillAlerts(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, alerts)
}

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.log(r).WithError(err).Info("unable to decode payload")
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case store.IsValidation(err), order.IsValidation(err), patient.IsValidation(err), inventory.IsValidation(err):
		s.respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrInvalidCredentials):
		s.respondError(w, store.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		s.respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrInvalidTransition):
		s.respondError(w, err.Error(), http.StatusConflict)
	default:
		s.log(r).WithError(err).Error("request failed")
		s.respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("response encoding failed")
	}
}

// respondError keeps JSON formatting consistent across endpoints.
func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func isAcceptedUpload(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".pdf":
		return true
	}
	return false
}
