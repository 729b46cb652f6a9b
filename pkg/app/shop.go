package app

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/backend"
	"pharmacy/pkg/cart"
	"pharmacy/pkg/catalog"
	"pharmacy/pkg/chat"
	"pharmacy/pkg/checkout"
	"pharmacy/pkg/patient"
	"pharmacy/pkg/session"
	"pharmacy/pkg/voice"
)

const shopHelp = `type a message to chat with the assistant, or:
  /products [category] [search]   browse medicines
  /add <product_id>               add one unit to the cart
  /remove <product_id>            drop a product from the cart
  /cart                           show the cart
  /confirm                        add the last proposed order to the cart
  /checkout [upi|card]            pay for the cart
  /orders                         list your orders
  /lang <en|hi|mr>                switch conversation language
  /listen, /stop                  dictate a message
  /login <email> <password>, /logout
  /register <email> <phone> <password> <name>
  /profile [set <name|phone|age|gender|allergies|store> <value>]
  /upload <file>                  upload a prescription (jpg, png, webp, pdf)
  /prescriptions                  list uploaded prescriptions
  /quit
`

// shop is one interactive storefront session.
type shop struct {
	cfg       Config
	out       *syncWriter
	logger    logrus.FieldLogger
	client    *backend.Client
	sessions  *session.Store
	cart      *cart.Cart
	transport *chat.Transport
	voice     *voice.Manager
	mic       *typedRecognizer

	mu       sync.Mutex
	lastCard chat.Card
	// payment is the last checkout; a failed one is resumed, not restarted.
	payment *checkout.Transition
}

// runShop opens the device state and reads storefront commands from stdin.
func runShop(ctx context.Context, args []string, logger *logrus.Logger, e env) error {
	var speak bool
	cfg, _, err := parseConfig("shop", args, e.getenv, func(set *flag.FlagSet) {
		set.BoolVar(&speak, "speak", false, "Read assistant replies aloud.")
	})
	if err != nil {
		return err
	}
	configureLogger(logger, cfg)
	out := &syncWriter{w: e.stdout}

	kv, release, err := openStorage(ctx, cfg, "device.json", logger)
	if err != nil {
		return errors.Wrap(err, "open device storage")
	}
	defer release()

	s := &shop{
		cfg:      cfg,
		out:      out,
		logger:   logger,
		client:   backend.New(cfg.APIURL, backend.WithLogger(logger)),
		sessions: session.NewStore(kv),
		mic:      &typedRecognizer{},
	}
	s.cart, err = cart.Open(ctx, kv, cart.WithLogger(logger), cart.WithNotifier(func(l cart.Line) {
		out.printf("%s added to cart (x%d)\n", l.Name, l.Quantity)
	}))
	if err != nil {
		return err
	}
	defer s.cart.Close()

	conv := chat.NewConversation(cfg.Language)
	s.transport = chat.NewTransport(s.client, conv, s.sessions, logger)

	var synth voice.Synthesizer
	if speak {
		synth = printSynthesizer{out: out}
	}
	s.voice = voice.NewManager(s.mic, synth, s.dictated, logger, voice.WithTranscriptHook(func(text string) {
		out.printf("hearing: %s\n", strings.TrimSpace(text))
	}))
	s.voice.SetLanguage(cfg.Language)
	defer s.voice.Close()
	s.transport.OnReply(s.voice.OnReply)

	for _, t := range conv.Turns() {
		s.render(t)
	}
	return readLines(ctx, e.stdin, func(line string) (bool, error) {
		if line == "" {
			return true, nil
		}
		if !strings.HasPrefix(line, "/") {
			if s.voice.Capture().Listening() && s.mic.Feed(line) {
				return true, nil
			}
			s.send(ctx, line)
			return true, nil
		}
		return s.command(ctx, strings.Fields(line))
	})
}

func (s *shop) command(ctx context.Context, fields []string) (bool, error) {
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	switch fields[0] {
	case "/quit", "/exit":
		return false, nil
	case "/lang":
		s.transport.Conversation().SetLanguage(arg(1))
		s.voice.SetLanguage(s.transport.Conversation().Language())
		s.setCard(nil)
		for _, t := range s.transport.Conversation().Turns() {
			s.render(t)
		}
	case "/products":
		s.products(ctx, arg(1), strings.Join(fields[min(2, len(fields)):], " "))
	case "/add":
		s.add(ctx, arg(1))
	case "/remove":
		if err := s.cart.Remove(ctx, arg(1)); err != nil {
			s.out.printf("remove failed: %v\n", err)
			return true, nil
		}
		s.showCart(ctx)
	case "/cart":
		s.showCart(ctx)
	case "/confirm":
		s.confirm(ctx)
	case "/checkout":
		s.checkout(ctx, checkout.Method(arg(1)))
	case "/orders":
		s.orders(ctx)
	case "/login":
		s.login(ctx, arg(1), arg(2))
	case "/logout":
		if err := s.sessions.ClearUser(ctx); err != nil {
			return false, errors.Wrap(err, "clear session")
		}
		s.out.printf("signed out\n")
	case "/register":
		if len(fields) < 5 {
			s.out.printf("usage: /register <email> <phone> <password> <name>\n")
			return true, nil
		}
		s.register(ctx, patient.Registration{
			Email:    fields[1],
			Phone:    fields[2],
			Password: fields[3],
			Name:     strings.Join(fields[4:], " "),
		})
	case "/profile":
		if arg(1) == "set" {
			s.updateProfile(ctx, arg(2), strings.Join(fields[min(3, len(fields)):], " "))
			return true, nil
		}
		s.profile(ctx)
	case "/upload":
		s.upload(ctx, strings.Join(fields[min(1, len(fields)):], " "))
	case "/prescriptions":
		s.prescriptions(ctx)
	case "/listen":
		if s.voice.Capture().Listening() {
			s.out.printf("already listening\n")
			return true, nil
		}
		if _, err := s.voice.Toggle(ctx); err != nil {
			s.out.printf("voice input unavailable: %v\n", err)
			return true, nil
		}
		s.out.printf("listening (%s); type what you would say, then /stop\n", voice.Locale(s.voice.Language()))
	case "/stop":
		if !s.voice.Capture().Listening() {
			s.out.printf("not listening\n")
			return true, nil
		}
		if _, err := s.voice.Toggle(ctx); err != nil {
			s.out.printf("stop failed: %v\n", err)
		}
	default:
		s.out.printf(shopHelp)
	}
	return true, nil
}

// dictated receives a finished voice transcript.
func (s *shop) dictated(ctx context.Context, text string) {
	s.out.printf("you said: %s\n", text)
	s.send(ctx, text)
}

func (s *shop) send(ctx context.Context, text string) {
	turn, err := s.transport.Send(ctx, text)
	if errors.Is(err, chat.ErrBusy) {
		s.out.printf("still waiting for the previous reply\n")
		return
	}
	if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrSuperseded) {
		return
	}
	s.render(turn)
	if err == nil {
		s.setCard(turn.Card)
	}
}

func (s *shop) setCard(c chat.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCard = c
}

func (s *shop) card() chat.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCard
}

func (s *shop) render(t chat.Turn) {
	who := "assistant"
	if t.Role == chat.RoleUser {
		who = "you"
	}
	s.out.printf("%s: %s\n", who, t.Text)
	switch c := t.Card.(type) {
	case chat.OrderConfirmation:
		for _, item := range c.Lines() {
			rx := ""
			if item.PrescriptionRequired {
				rx = " (Rx)"
			}
			s.out.printf("  %s x%d @ %s%s\n", item.ProductName, item.Qty, item.Price.StringFixed(2), rx)
		}
		s.out.printf("  total %s; /confirm to add to cart\n", c.DisplayTotal().StringFixed(2))
	case chat.SafetyAlert:
		s.out.printf("  safety alert: %s\n", c.Message)
		for _, r := range c.Rejected {
			s.out.printf("  - %s: %s\n", r.ProductName, r.Reason)
		}
	case chat.OrderStatus:
		s.out.printf("  order status: %s\n", c.Status)
	}
}

func (s *shop) confirm(ctx context.Context) {
	err := chat.Dispatch(ctx, s.card(), chat.Actions{
		Confirm: func(ctx context.Context, oc chat.OrderConfirmation) error {
			if err := chat.AddToCart(ctx, s.cart, oc); err != nil {
				return err
			}
			s.out.printf("added to cart; /checkout to pay\n")
			return nil
		},
		Alert:  func(chat.SafetyAlert) { s.out.printf("nothing to confirm: the last reply was a safety alert\n") },
		Status: func(chat.OrderStatus) { s.out.printf("nothing to confirm\n") },
	})
	if err != nil {
		s.out.printf("confirm failed: %v\n", err)
		return
	}
	if s.card() == nil {
		s.out.printf("nothing to confirm\n")
	}
	s.setCard(nil)
}

func (s *shop) products(ctx context.Context, category, search string) {
	if category == "" {
		category = catalog.AllCategories
	}
	list, err := s.client.Products(ctx, category, "")
	if err != nil {
		s.out.printf("unable to load products: %v\n", err)
		return
	}
	list = catalog.Filter(list, category, search)
	if len(list) == 0 {
		s.out.printf("no medicines found\n")
		return
	}
	for _, p := range list {
		flags := ""
		if p.PrescriptionRequired {
			flags += " Rx"
		}
		if !p.InStock() {
			flags += " out-of-stock"
		}
		s.out.printf("%-7s %-24s %8s  %s%s\n", p.ID, p.Name, p.Price.StringFixed(2), p.Category, flags)
	}
}

func (s *shop) add(ctx context.Context, id string) {
	list, err := s.client.Products(ctx, catalog.AllCategories, "")
	if err != nil {
		s.out.printf("unable to load products: %v\n", err)
		return
	}
	p, err := catalog.Find(list, id)
	if err != nil {
		s.out.printf("%v: %s\n", err, id)
		return
	}
	if !p.InStock() {
		s.out.printf("%s is out of stock\n", p.Name)
		return
	}
	if err := s.cart.AddOrIncrement(ctx, p.ID, p.Name, p.Price, p.Category); err != nil {
		s.out.printf("add failed: %v\n", err)
	}
}

func (s *shop) showCart(ctx context.Context) {
	lines, err := s.cart.Lines(ctx)
	if err != nil {
		s.out.printf("cart unavailable: %v\n", err)
		return
	}
	if len(lines) == 0 {
		s.out.printf("your cart is empty\n")
		return
	}
	for _, l := range lines {
		s.out.printf("%-7s %-24s x%-3d %8s\n", l.ProductID, l.Name, l.Quantity, l.Subtotal().StringFixed(2))
	}
	s.out.printf("total %s\n", cart.Total(lines).StringFixed(2))
}

func (s *shop) checkout(ctx context.Context, method checkout.Method) {
	tr := s.transition()
	receipt, err := tr.Submit(ctx, checkout.Request{PatientID: s.sessions.PatientID(ctx), Method: method})
	if err != nil {
		s.out.printf("checkout failed: %v\n", err)
		return
	}
	s.payment = nil
	s.out.printf("payment of %s by %s complete; %d order(s) placed\n",
		receipt.Total.StringFixed(2), receipt.Method, len(receipt.Orders))
	for _, o := range receipt.Orders {
		s.out.printf("  %s %s x%d\n", o.ID, o.ProductName, o.Quantity)
	}
	if receipt.CartErr != nil {
		s.out.printf("warning: your cart could not be emptied (%v); retrying\n", receipt.CartErr)
		if err := s.cart.Clear(ctx); err != nil {
			s.out.printf("cart still holds paid items; remove them before the next checkout\n")
		}
	}
}

// transition resumes a failed checkout so charges and orders it already
// made are not repeated, or starts a new one.
func (s *shop) transition() *checkout.Transition {
	if s.payment != nil && s.payment.State() == checkout.StateFailed {
		if err := s.payment.Reset(); err == nil {
			s.out.printf("resuming the previous checkout\n")
			return s.payment
		}
	}
	tr := checkout.New(s.cart, checkout.SimulatedGateway{Delay: s.cfg.CheckoutDelay}, s.client, s.logger)
	tr.OnChange(func(st checkout.State) {
		if st == checkout.StateProcessing {
			s.out.printf("processing payment...\n")
		}
	})
	s.payment = tr
	return tr
}

func (s *shop) orders(ctx context.Context) {
	list, err := s.client.PatientOrders(ctx, s.sessions.PatientID(ctx))
	if err != nil {
		s.out.printf("unable to load orders: %v\n", err)
		return
	}
	if len(list) == 0 {
		s.out.printf("no orders yet\n")
		return
	}
	for _, o := range list {
		s.out.printf("%-14s %-24s x%-3d %8s  %s\n", o.ID, o.ProductName, o.Quantity, o.TotalPrice.StringFixed(2), o.Status)
	}
}

func (s *shop) login(ctx context.Context, email, password string) {
	user, err := s.client.Login(ctx, patient.Credentials{Email: email, Password: password})
	if err != nil {
		s.out.printf("login failed: %v\n", err)
		return
	}
	if err := s.sessions.SaveUser(ctx, user); err != nil {
		s.out.printf("unable to save session: %v\n", err)
		return
	}
	s.out.printf("welcome, %s\n", user.Name)
}

func (s *shop) register(ctx context.Context, reg patient.Registration) {
	if err := reg.Validate(); err != nil {
		s.out.printf("registration failed: %v\n", err)
		return
	}
	created, err := s.client.Register(ctx, reg)
	if err != nil {
		s.out.printf("registration failed: %v\n", err)
		return
	}
	s.out.printf("registered %s as %s\n", created.Name, created.PatientID)
	s.login(ctx, reg.Email, reg.Password)
}

func (s *shop) profile(ctx context.Context) {
	p, err := s.client.Patient(ctx, s.sessions.PatientID(ctx))
	if err != nil {
		s.out.printf("unable to load profile: %v\n", err)
		return
	}
	s.out.printf("%s (%s)\n", p.Name, p.PatientID)
	s.out.printf("  email %s, phone %s\n", p.Email, p.Phone)
	if p.Age != nil {
		s.out.printf("  age %d\n", *p.Age)
	}
	if p.Gender != "" {
		s.out.printf("  gender %s\n", p.Gender)
	}
	if len(p.Allergies) > 0 {
		s.out.printf("  allergies %s\n", strings.Join(p.Allergies, ", "))
	}
	if p.PreferredStore != "" {
		s.out.printf("  preferred store %s\n", p.PreferredStore)
	}
	if p.PrescriptionUploaded {
		s.out.printf("  prescription on file\n")
	}
}

func (s *shop) updateProfile(ctx context.Context, field, value string) {
	var upd patient.Update
	switch field {
	case "name":
		upd.Name = &value
	case "phone":
		upd.Phone = &value
	case "gender":
		upd.Gender = &value
	case "store":
		upd.PreferredStore = &value
	case "age":
		age, err := strconv.Atoi(value)
		if err != nil {
			s.out.printf("age must be a number\n")
			return
		}
		upd.Age = &age
	case "allergies":
		upd.Allergies = []string{}
		for _, a := range strings.Split(value, ",") {
			if a = strings.TrimSpace(a); a != "" {
				upd.Allergies = append(upd.Allergies, a)
			}
		}
	default:
		s.out.printf("usage: /profile set <name|phone|age|gender|allergies|store> <value>\n")
		return
	}
	if _, err := s.client.UpdatePatient(ctx, s.sessions.PatientID(ctx), upd); err != nil {
		s.out.printf("profile update failed: %v\n", err)
		return
	}
	s.out.printf("profile updated\n")
}

func (s *shop) upload(ctx context.Context, path string) {
	if path == "" {
		s.out.printf("usage: /upload <file>\n")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.out.printf("unable to read %s: %v\n", path, err)
		return
	}
	defer f.Close()

	up, err := s.client.UploadPrescription(ctx, s.sessions.PatientID(ctx), filepath.Base(path), f)
	if err != nil {
		s.out.printf("upload failed: %v\n", err)
		return
	}
	s.out.printf("%s: %s\n", up.Message, up.Prescription.FileURL)
	if up.ExtractedText != "" {
		s.out.printf("  read: %s\n", up.ExtractedText)
	}
}

func (s *shop) prescriptions(ctx context.Context) {
	list, err := s.client.Prescriptions(ctx, s.sessions.PatientID(ctx))
	if err != nil {
		s.out.printf("unable to load prescriptions: %v\n", err)
		return
	}
	if len(list) == 0 {
		s.out.printf("no prescriptions uploaded\n")
		return
	}
	for _, rx := range list {
		s.out.printf("#%d %s uploaded %s\n", rx.ID, rx.FileURL, rx.UploadedAt)
	}
}
