package app

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"pharmacy/internal/auth"
	"pharmacy/internal/store"
	"pharmacy/pkg/admin"
	"pharmacy/pkg/backend"
	"pharmacy/pkg/httpapi"
	"pharmacy/pkg/order"
	"pharmacy/pkg/storage"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func noEnv(string) string { return "" }

func TestConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pharmacy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: http://from-file:8000
poll_interval: 2s
language: hi
storage: memory
`), 0o600))

	getenv := func(key string) string {
		switch key {
		case "PHARMACY_API_URL":
			return "http://from-env:8000"
		case "PORT":
			return "9090"
		}
		return ""
	}
	cfg, rest, err := parseConfig("shop", []string{"-config", path, "-language", "mr", "extra"}, getenv, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:8000", cfg.APIURL)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "mr", cfg.Language)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, admin.DefaultAlertWindow, cfg.AlertWindow)
	assert.Equal(t, []string{"extra"}, rest)
}

func TestConfigExtraFlagsSurviveReparse(t *testing.T) {
	var user string
	_, _, err := parseConfig("admin", []string{"-storage", "memory", "-username", "admin"}, noEnv, func(set *flag.FlagSet) {
		set.StringVar(&user, "username", "", "")
	})
	require.NoError(t, err)
	assert.Equal(t, "admin", user)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string][]string{
		"storage":  {"-storage", "s3"},
		"language": {"-language", "fr"},
		"interval": {"-poll-interval", "0s"},
		"format":   {"-log-format", "xml"},
		"level":    {"-log-level", "loud"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseConfig("serve", args, noEnv, nil)
			assert.Error(t, err)
		})
	}

	_, _, err := parseConfig("serve", []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, noEnv, nil)
	assert.Error(t, err)
}

func TestVersionAndUnknownCommands(t *testing.T) {
	var out bytes.Buffer
	e := env{stdin: strings.NewReader(""), stdout: &out, getenv: noEnv}

	require.NoError(t, run(context.Background(), []string{"version"}, quietLogger(), e))
	assert.Contains(t, out.String(), "pharmacy version dev")

	out.Reset()
	assert.Error(t, run(context.Background(), []string{"bake"}, quietLogger(), e))
	assert.Contains(t, out.String(), "usage: pharmacy")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"serve", "-h"}, quietLogger(), e))
	assert.Contains(t, out.String(), "usage: pharmacy")
}

func TestServeStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	e := env{stdin: strings.NewReader(""), stdout: &bytes.Buffer{}, getenv: noEnv}
	go func() {
		done <- run(ctx, []string{"serve", "-listen", "127.0.0.1:0", "-storage", "memory"}, quietLogger(), e)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServePersistsStateToFile(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	e := env{stdin: strings.NewReader(""), stdout: &bytes.Buffer{}, getenv: noEnv}
	go func() {
		done <- run(ctx, []string{"serve", "-listen", "127.0.0.1:0", "-data-path", dir}, quietLogger(), e)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	_, err := os.Stat(filepath.Join(dir, "backend.json"))
	assert.NoError(t, err)
}

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := quietLogger()
	st, err := store.Open(context.Background(), storage.NewMemoryStore(), store.WithLogger(logger), store.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	api := httpapi.New(st, issuer, nil, logger)
	t.Cleanup(api.Close)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestShopSession(t *testing.T) {
	srv := newBackendServer(t)
	input := strings.Join([]string{
		"/add MED001",
		"/add MED001",
		"/cart",
		"I need paracetamol 2",
		"/confirm",
		"/checkout card",
		"/cart",
		"/orders",
		"/quit",
	}, "\n") + "\n"

	var out bytes.Buffer
	e := env{stdin: strings.NewReader(input), stdout: &out, getenv: noEnv}
	args := []string{"shop", "-api-url", srv.URL, "-storage", "memory", "-checkout-delay", "0s"}
	require.NoError(t, run(context.Background(), args, quietLogger(), e))

	text := out.String()
	assert.Contains(t, text, "assistant: Hello")
	assert.Contains(t, text, "Paracetamol 500mg added to cart (x2)")
	assert.Contains(t, text, "total 50.00")
	assert.Contains(t, text, "/confirm to add to cart")
	assert.Contains(t, text, "Paracetamol 500mg added to cart (x4)")
	assert.Contains(t, text, "payment of 100.00 by card complete; 1 order(s) placed")
	assert.Contains(t, text, "your cart is empty")
	assert.Contains(t, text, "confirmed")
}

func TestShopAccountCommands(t *testing.T) {
	srv := newBackendServer(t)
	rx := filepath.Join(t.TempDir(), "rx.png")
	require.NoError(t, os.WriteFile(rx, []byte("fake image"), 0o600))

	input := strings.Join([]string{
		"/register asha@example.com 98765 secret1 Asha Rao",
		"/profile set age 34",
		"/profile set allergies penicillin, sulfa",
		"/profile set age old",
		"/upload " + rx,
		"/upload " + filepath.Join(t.TempDir(), "missing.png"),
		"/profile",
		"/prescriptions",
		"/register bad",
		"/quit",
	}, "\n") + "\n"
	var out bytes.Buffer
	e := env{stdin: strings.NewReader(input), stdout: &out, getenv: noEnv}
	require.NoError(t, run(context.Background(), []string{"shop", "-api-url", srv.URL, "-storage", "memory"}, quietLogger(), e))

	text := out.String()
	assert.Regexp(t, `registered Asha Rao as PAT-[0-9A-F]{8}`, text)
	assert.Contains(t, text, "welcome, Asha Rao")
	assert.Contains(t, text, "profile updated")
	assert.Contains(t, text, "age must be a number")
	assert.Contains(t, text, "Prescription uploaded successfully: /uploads/PAT-")
	assert.Contains(t, text, "unable to read")
	assert.Contains(t, text, "age 34")
	assert.Contains(t, text, "allergies penicillin, sulfa")
	assert.Contains(t, text, "prescription on file")
	assert.Regexp(t, `#1 /uploads/PAT-[0-9A-F]{8}/rx.png uploaded`, text)
	assert.Contains(t, text, "usage: /register")
}

func TestShopResumesFailedCheckout(t *testing.T) {
	srv := newBackendServer(t)
	client := backend.New(srv.URL, backend.WithLogger(quietLogger()))
	ctx := context.Background()

	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	e := env{stdin: pr, stdout: out, getenv: noEnv}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"shop", "-api-url", srv.URL, "-storage", "memory", "-checkout-delay", "0s"}, quietLogger(), e)
	}()
	waitFor := func(want string) {
		t.Helper()
		require.Eventually(t, func() bool { return strings.Contains(out.String(), want) },
			3*time.Second, 10*time.Millisecond, "waiting for %q", want)
	}

	_, err := io.WriteString(pw, "/add MED001\n/add MED002\n")
	require.NoError(t, err)
	waitFor("Ibuprofen 400mg added to cart (x1)")

	_, err = client.SetStock(ctx, "MED002", 0)
	require.NoError(t, err)
	_, err = io.WriteString(pw, "/checkout\n")
	require.NoError(t, err)
	waitFor("checkout failed")

	_, err = client.SetStock(ctx, "MED002", 150)
	require.NoError(t, err)
	_, err = io.WriteString(pw, "/checkout\n")
	require.NoError(t, err)
	waitFor("payment of 65.00 by upi complete; 2 order(s) placed")

	_, err = io.WriteString(pw, "/quit\n")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "resuming the previous checkout")

	orders, err := client.PatientOrders(ctx, "PAT001")
	require.NoError(t, err)
	perProduct := map[string]int{}
	for _, o := range orders {
		perProduct[o.ProductID]++
	}
	assert.Equal(t, map[string]int{"MED001": 1, "MED002": 1}, perProduct)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestShopDictation(t *testing.T) {
	srv := newBackendServer(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	e := env{stdin: pr, stdout: out, getenv: noEnv}
	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), []string{"shop", "-api-url", srv.URL, "-storage", "memory"}, quietLogger(), e)
	}()

	_, err := io.WriteString(pw, "/listen\nI need cetirizine\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "hearing: I need cetirizine")
	}, 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(pw, "/stop\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Cetirizine 10mg x1")
	}, 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(pw, "/quit\n")
	require.NoError(t, err)
	require.NoError(t, <-done)

	text := out.String()
	assert.Contains(t, text, "listening (en-IN)")
	assert.Contains(t, text, "you said: I need cetirizine")
}

func TestAdminSession(t *testing.T) {
	srv := newBackendServer(t)
	client := backend.New(srv.URL, backend.WithLogger(quietLogger()))
	placed, err := client.PlaceOrder(context.Background(), order.Placement{PatientID: "PAT001", ProductID: "MED007", Quantity: 1})
	require.NoError(t, err)

	input := strings.Join([]string{
		"list",
		"advance " + placed.ID,
		"cancel ORD-MISSING",
		"quit",
	}, "\n") + "\n"
	var out bytes.Buffer
	e := env{stdin: strings.NewReader(input), stdout: &out, getenv: noEnv}
	args := []string{"admin", "-api-url", srv.URL, "-storage", "memory", "-username", "admin", "-password", "nexus2026"}
	require.NoError(t, run(context.Background(), args, quietLogger(), e))

	text := out.String()
	assert.Contains(t, text, "signed in as")
	assert.Contains(t, text, "orders: 1 total, 1 pending, 0 delivered")
	assert.Contains(t, text, placed.ID)
	assert.Contains(t, text, placed.ID+" -> Processing requested")
	assert.Contains(t, text, "cancel ORD-MISSING")

	listing, err := client.AdminOrders(context.Background())
	require.NoError(t, err)
	o, ok := listing.Find(placed.ID)
	require.True(t, ok)
	assert.Equal(t, order.StatusProcessing, o.Status)
}

func TestAdminInventoryCommands(t *testing.T) {
	srv := newBackendServer(t)
	client := backend.New(srv.URL, backend.WithLogger(quietLogger()))
	_, err := client.PlaceOrder(context.Background(), order.Placement{PatientID: "PAT001", ProductID: "MED007", Quantity: 1})
	require.NoError(t, err)

	input := strings.Join([]string{
		"restock MED009 0",
		"restock MED001 lots",
		"restock MED999 5",
		"inventory",
		"refills",
		"quit",
	}, "\n") + "\n"
	var out bytes.Buffer
	e := env{stdin: strings.NewReader(input), stdout: &out, getenv: noEnv}
	args := []string{"admin", "-api-url", srv.URL, "-storage", "memory", "-username", "admin", "-password", "nexus2026"}
	require.NoError(t, run(context.Background(), args, quietLogger(), e))

	text := out.String()
	assert.Contains(t, text, "MED009 stock set to 0")
	assert.Contains(t, text, `restock: "lots" is not a quantity`)
	assert.Contains(t, text, "restock MED999")
	assert.Contains(t, text, "12 products, 1 low stock, 1 out of stock")
	assert.Regexp(t, `MED009\s+Salbutamol Inhaler\s+0 OUT`, text)
	assert.Regexp(t, `Demo Patient\s+Cetirizine 10mg\s+runs out`, text)
}

func TestAdminRequiresCredentialsWithoutSession(t *testing.T) {
	srv := newBackendServer(t)
	e := env{stdin: strings.NewReader(""), stdout: &bytes.Buffer{}, getenv: noEnv}
	err := run(context.Background(), []string{"admin", "-api-url", srv.URL, "-storage", "memory"}, quietLogger(), e)
	assert.Error(t, err)

	err = run(context.Background(), []string{"admin", "-api-url", srv.URL, "-storage", "memory", "-username", "admin", "-password", "nope"}, quietLogger(), e)
	assert.True(t, backend.IsAPIError(err))
}
