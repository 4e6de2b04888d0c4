// Package composer builds a back-office order: it holds the draft, derives
// the total from the product catalog, validates on submission and hands the
// order to the sink.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

type ProductSource interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type CustomerSource interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

type OrderSink interface {
	CreateOrder(ctx context.Context, payload domain.OrderPayload) (domain.OrderConfirmation, error)
}

type Publisher interface {
	PublishOrderSubmitted(ctx context.Context, event domain.OrderSubmittedEvent) error
}

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateInvalid    State = "invalid"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateFailed     State = "failed"
)

var metrics = newInstruments()

type Composer struct {
	id        string
	products  ProductSource
	customers CustomerSource
	sink      OrderSink
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.Mutex
	draft          Draft
	catalog        []domain.Product
	index          map[int64]domain.Product
	productsLoaded bool
	customerList   []domain.Customer
	total          Total
	state          State
	submitting     bool
	errors         ValidationErrors
	catalogErrs    map[string]*CatalogLoadError
	message        string
	submitErr      *SubmissionError
	closed         bool
}

type Option func(*Composer)

func WithID(id string) Option {
	return func(c *Composer) {
		c.id = id
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Composer) {
		c.logger = logger
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(c *Composer) {
		c.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		c.now = now
	}
}

func New(products ProductSource, customers CustomerSource, sink OrderSink, opts ...Option) *Composer {
	c := &Composer{
		products:    products,
		customers:   customers,
		sink:        sink,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		state:       StateIdle,
		index:       map[int64]domain.Product{},
		catalogErrs: map[string]*CatalogLoadError{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}

	c.draft = newDraft(c.now())
	c.recompute()
	return c
}

func (c *Composer) ID() string {
	return c.id
}

// Load fetches both catalogs concurrently. A failing catalog is left empty
// and reported as a *CatalogLoadError; the composer stays usable.
func (c *Composer) Load(ctx context.Context) error {
	ctx, span := composerTracer.Start(ctx, "composer.load", trace.WithAttributes(attribute.String("draft.id", c.id)))
	defer span.End()

	var (
		products     []domain.Product
		customers    []domain.Customer
		productsErr  error
		customersErr error
		g            errgroup.Group
	)
	g.Go(func() error {
		products, productsErr = c.products.ListProducts(ctx)
		return nil
	})
	g.Go(func() error {
		customers, customersErr = c.customers.ListCustomers(ctx)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Debug("dropping catalogs for closed draft", "draft_id", c.id)
		return ErrComposerClosed
	}

	err := errors.Join(
		c.applyProducts(products, productsErr),
		c.applyCustomers(customers, customersErr),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RefreshProducts reloads the product catalog and recomputes the total.
func (c *Composer) RefreshProducts(ctx context.Context) error {
	ctx, span := composerTracer.Start(ctx, "composer.refresh_products", trace.WithAttributes(attribute.String("draft.id", c.id)))
	defer span.End()

	products, err := c.products.ListProducts(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrComposerClosed
	}

	if err := c.applyProducts(products, err); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Composer) applyProducts(products []domain.Product, err error) error {
	if err != nil {
		loadErr := &CatalogLoadError{Catalog: CatalogProducts, Err: err}
		c.catalogErrs[CatalogProducts] = loadErr
		c.catalog = nil
		c.index = map[int64]domain.Product{}
		c.productsLoaded = false
		c.recompute()
		c.logger.Error("failed to load product catalog", "error", err, "draft_id", c.id)
		return loadErr
	}

	delete(c.catalogErrs, CatalogProducts)
	c.catalog = products
	c.index = indexProducts(products)
	c.productsLoaded = true
	c.recompute()
	if len(c.total.Missing) > 0 {
		c.logger.Warn("draft references products missing from catalog", "draft_id", c.id, "product_ids", c.total.Missing)
	}
	return nil
}

func (c *Composer) applyCustomers(customers []domain.Customer, err error) error {
	if err != nil {
		loadErr := &CatalogLoadError{Catalog: CatalogCustomers, Err: err}
		c.catalogErrs[CatalogCustomers] = loadErr
		c.customerList = nil
		c.logger.Error("failed to load customer catalog", "error", err, "draft_id", c.id)
		return loadErr
	}

	delete(c.catalogErrs, CatalogCustomers)
	c.customerList = customers
	return nil
}

func (c *Composer) SetCustomer(customerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrComposerClosed
	}
	c.settle()
	c.draft.CustomerID = &customerID
	return nil
}

func (c *Composer) ClearCustomer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrComposerClosed
	}
	c.settle()
	c.draft.CustomerID = nil
	return nil
}

func (c *Composer) SetDate(date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrComposerClosed
	}
	c.settle()
	c.draft.Date = date
	return nil
}

// SetLineQuantity sets the quantity of productID from raw operator input and
// returns the quantity actually stored. Input that is not a non-negative
// integer is stored as 0.
func (c *Composer) SetLineQuantity(productID int64, raw string) (int, error) {
	quantity := ParseQuantity(raw)
	if err := c.SetQuantity(productID, quantity); err != nil {
		return 0, err
	}
	return quantity, nil
}

func (c *Composer) SetQuantity(productID int64, quantity int) error {
	if quantity < 0 {
		quantity = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrComposerClosed
	}
	// Lines already in the draft stay editable after their product leaves
	// the catalog.
	if c.productsLoaded && !c.draft.hasLine(productID) {
		if _, ok := c.index[productID]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownProduct, productID)
		}
	}
	c.settle()
	c.draft.setLine(productID, quantity)
	c.recompute()
	return nil
}

// recompute must run after every change to the lines or the catalog. Until
// the product catalog has loaded nothing can be priced, so nothing is
// flagged either.
func (c *Composer) recompute() {
	if !c.productsLoaded {
		c.total = Total{}
		return
	}
	c.total = ComputeTotal(c.draft.Lines, c.index)
}

// Validate checks the current draft without changing any state.
func (c *Composer) Validate() ValidationErrors {
	c.mu.Lock()
	defer c.mu.Unlock()

	return validateDraft(c.draft, c.index)
}

// Submit validates the draft and, when it is valid, sends it to the order
// sink exactly once. On success the draft is replaced by a fresh one; on
// failure it is kept as is.
func (c *Composer) Submit(ctx context.Context) (domain.OrderConfirmation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.OrderConfirmation{}, ErrComposerClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return domain.OrderConfirmation{}, ErrSubmitInFlight
	}

	c.settle()
	c.transition(StateValidating)
	if verrs := validateDraft(c.draft, c.index); len(verrs) > 0 {
		c.errors = verrs
		c.transition(StateInvalid)
		c.transition(StateIdle)
		c.mu.Unlock()
		metrics.submissions.Add(ctx, 1, outcomeInvalid)
		return domain.OrderConfirmation{}, verrs
	}

	c.errors = nil
	payload := c.draft.payload(c.index)
	total := c.total
	c.submitting = true
	c.transition(StateSubmitting)
	c.mu.Unlock()

	ctx, span := composerTracer.Start(ctx, "composer.submit", trace.WithAttributes(
		attribute.String("draft.id", c.id),
		attribute.Int64("customer.id", payload.CustomerID),
		attribute.Int("order.lines", len(payload.Products)),
		attribute.String("order.total", total.String()),
	))
	defer span.End()

	confirmation, err := c.sink.CreateOrder(ctx, payload)

	c.mu.Lock()
	c.submitting = false

	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("ignoring submission result for closed draft", "draft_id", c.id, "error", err)
		return confirmation, err
	}

	if err != nil {
		c.submitErr = &SubmissionError{Err: err}
		c.transition(StateFailed)
		submitErr := c.submitErr
		c.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.submissions.Add(ctx, 1, outcomeFailed)
		c.logger.Error("order submission failed", "error", err, "draft_id", c.id, "customer_id", payload.CustomerID)
		return domain.OrderConfirmation{}, submitErr
	}

	c.message = confirmation.Message
	c.draft = newDraft(c.now())
	c.recompute()
	c.transition(StateSubmitted)
	c.mu.Unlock()

	metrics.submissions.Add(ctx, 1, outcomeSubmitted)
	metrics.orderTotal.Record(ctx, total.Amount.InexactFloat64())
	c.logger.Info("order submitted", "draft_id", c.id, "customer_id", payload.CustomerID, "total", total.String())

	c.publish(ctx, payload, total, confirmation)
	return confirmation, nil
}

func (c *Composer) publish(ctx context.Context, payload domain.OrderPayload, total Total, confirmation domain.OrderConfirmation) {
	if c.publisher == nil {
		return
	}

	event := domain.OrderSubmittedEvent{
		DraftID:    c.id,
		CustomerID: payload.CustomerID,
		Date:       payload.Date,
		Products:   payload.Products,
		Total:      total.String(),
		Message:    confirmation.Message,
		Timestamp:  c.now().UTC(),
	}
	if err := c.publisher.PublishOrderSubmitted(ctx, event); err != nil {
		c.logger.Error("failed to publish order submitted event", "error", err, "draft_id", c.id)
	}
}

// Dismiss acknowledges a Submitted or Failed result and returns to Idle.
func (c *Composer) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrComposerClosed
	}
	c.settle()
	return nil
}

// Close discards the draft. Results of calls still in flight are dropped
// when they arrive.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.draft = Draft{}
	c.total = Total{}
	c.logger.Debug("draft closed", "draft_id", c.id)
}

// settle moves a finished submission back to Idle and clears its
// notification. Callers hold c.mu.
func (c *Composer) settle() {
	if c.state != StateSubmitted && c.state != StateFailed {
		return
	}
	c.message = ""
	c.submitErr = nil
	c.transition(StateIdle)
}

func (c *Composer) transition(to State) {
	if c.state == to {
		return
	}
	c.logger.Debug("draft state changed", "draft_id", c.id, "from", c.state, "to", to)
	c.state = to
}

func (c *Composer) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.draft.clone()
}

func (c *Composer) Total() Total {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Total{Amount: c.total.Amount, Missing: append([]int64(nil), c.total.Missing...)}
}

func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Composer) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.submitting
}
