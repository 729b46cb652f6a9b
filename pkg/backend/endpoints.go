package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"pharmacy/pkg/catalog"
	"pharmacy/pkg/chat"
	"pharmacy/pkg/inventory"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
	"pharmacy/pkg/session"
)

// Login authenticates a patient and returns the session marker to persist.
func (c *Client) Login(ctx context.Context, creds patient.Credentials) (session.User, error) {
	var out session.User
	if err := c.sendJSON(ctx, http.MethodPost, "/api/auth/login", creds, &out); err != nil {
		return session.User{}, err
	}
	return out, nil
}

// Registered is the answer to a successful registration.
type Registered struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	Message   string `json:"message"`
}

// Register creates a patient account.
func (c *Client) Register(ctx context.Context, reg patient.Registration) (Registered, error) {
	var out Registered
	err := c.sendJSON(ctx, http.MethodPost, "/api/auth/register", reg, &out)
	return out, err
}

// AdminLogin authenticates an operator.
func (c *Client) AdminLogin(ctx context.Context, username, password string) (session.Admin, error) {
	in := map[string]string{"username": username, "password": password}
	var out session.Admin
	if err := c.sendJSON(ctx, http.MethodPost, "/api/admin/login", in, &out); err != nil {
		return session.Admin{}, err
	}
	if !out.Valid() {
		return session.Admin{}, &APIError{Status: http.StatusUnauthorized, Message: "Invalid admin credentials"}
	}
	return out, nil
}

// Products lists the catalog, optionally filtered on the server.
func (c *Client) Products(ctx context.Context, category, search string) ([]catalog.Product, error) {
	q := url.Values{}
	if category != "" && category != catalog.AllCategories {
		q.Set("category", category)
	}
	if search != "" {
		q.Set("search", search)
	}
	path := "/api/products"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []catalog.Product
	err := c.getJSON(ctx, path, &out)
	return out, err
}

// Patient fetches a profile.
func (c *Client) Patient(ctx context.Context, id string) (patient.Profile, error) {
	var out patient.Profile
	err := c.getJSON(ctx, "/api/patients/"+escape(id), &out)
	return out, err
}

// UpdatePatient edits a profile.
func (c *Client) UpdatePatient(ctx context.Context, id string, upd patient.Update) (patient.Profile, error) {
	var out patient.Profile
	err := c.sendJSON(ctx, http.MethodPut, "/api/patients/"+escape(id), upd, &out)
	return out, err
}

// Chat sends one message to the assistant.
func (c *Client) Chat(ctx context.Context, req chat.Request) (chat.Reply, error) {
	var out chat.Reply
	err := c.sendJSON(ctx, http.MethodPost, "/api/chat", req, &out)
	return out, err
}

// Upload is the answer to a prescription upload.
type Upload struct {
	Message       string               `json:"message"`
	Prescription  patient.Prescription `json:"prescription"`
	ExtractedText string               `json:"extracted_text"`
}

// UploadPrescription sends a prescription file as multipart form data.
func (c *Client) UploadPrescription(ctx context.Context, patientID, fileName string, file io.Reader) (Upload, error) {
	body, contentType, err := multipartBody(map[string]string{"patient_id": patientID}, "file", fileName, file)
	if err != nil {
		return Upload{}, errors.Wrap(err, "encode upload")
	}
	var out Upload
	err = c.do(ctx, http.MethodPost, "/api/prescriptions/upload", body, contentType, &out)
	return out, err
}

// Prescriptions lists a patient's uploads.
func (c *Client) Prescriptions(ctx context.Context, patientID string) ([]patient.Prescription, error) {
	var out []patient.Prescription
	err := c.getJSON(ctx, "/api/prescriptions/"+escape(patientID), &out)
	return out, err
}

// PlaceOrder registers one order line.
func (c *Client) PlaceOrder(ctx context.Context, p order.Placement) (order.Order, error) {
	var out struct {
		Message string      `json:"message"`
		Order   order.Order `json:"order"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, "/api/orders", p, &out); err != nil {
		return order.Order{}, err
	}
	return out.Order, nil
}

// PatientOrders lists one patient's orders.
func (c *Client) PatientOrders(ctx context.Context, patientID string) ([]order.Order, error) {
	var out struct {
		Orders []order.Order `json:"orders"`
		Count  int           `json:"count"`
	}
	err := c.getJSON(ctx, "/api/orders/"+escape(patientID), &out)
	return out.Orders, err
}

// AdminOrders fetches every order with aggregate counts.
func (c *Client) AdminOrders(ctx context.Context) (order.Listing, error) {
	var out order.Listing
	err := c.getJSON(ctx, "/api/admin/orders", &out)
	return out, err
}

// UpdateOrderStatus requests a status change.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error {
	in := map[string]string{"status": string(status)}
	return c.sendJSON(ctx, http.MethodPut, "/api/admin/orders/"+escape(orderID)+"/status", in, nil)
}

// Inventory fetches the stock table with its low and out-of-stock counts.
func (c *Client) Inventory(ctx context.Context) (inventory.Report, error) {
	var out inventory.Report
	err := c.getJSON(ctx, "/api/admin/inventory", &out)
	return out, err
}

// SetStock overwrites one product's stock level.
func (c *Client) SetStock(ctx context.Context, productID string, quantity int) (catalog.Product, error) {
	var out struct {
		Message string          `json:"message"`
		Product catalog.Product `json:"product"`
	}
	in := inventory.StockUpdate{StockQuantity: quantity}
	if err := c.sendJSON(ctx, http.MethodPut, "/api/admin/inventory/"+escape(productID), in, &out); err != nil {
		return catalog.Product{}, err
	}
	return out.Product, nil
}

// RefillAlerts lists the patients predicted to run out of a medicine soon.
func (c *Client) RefillAlerts(ctx context.Context) ([]inventory.RefillAlert, error) {
	var out []inventory.RefillAlert
	err := c.getJSON(ctx, "/api/admin/refill-alerts", &out)
	return out, err
}
