package composer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderdesk/internal/domain"
	"github.com/joao-fontenele/orderdesk/internal/mocks"
)

var (
	widget = product(1, "Widget", "10.00")
	gadget = product(2, "Gadget", "2.50")
	alice  = domain.Customer{ID: 7, Name: "Alice"}
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 15, 4, 5, 0, time.UTC)
}

type fixture struct {
	products  *mocks.MockProductSource
	customers *mocks.MockCustomerSource
	sink      *mocks.MockOrderSink
	publisher *mocks.MockPublisher
	composer  *Composer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		products:  new(mocks.MockProductSource),
		customers: new(mocks.MockCustomerSource),
		sink:      new(mocks.MockOrderSink),
		publisher: new(mocks.MockPublisher),
	}
	f.composer = New(f.products, f.customers, f.sink,
		WithID("draft-1"),
		WithClock(fixedClock),
		WithPublisher(f.publisher),
	)
	return f
}

// loaded returns a fixture whose catalogs hold Widget, Gadget and Alice.
func loaded(t *testing.T) *fixture {
	t.Helper()

	f := newFixture(t)
	f.products.On("ListProducts", mock.Anything).Return([]domain.Product{widget, gadget}, nil).Once()
	f.customers.On("ListCustomers", mock.Anything).Return([]domain.Customer{alice}, nil).Once()
	require.NoError(t, f.composer.Load(context.Background()))
	return f
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	d := f.composer.Draft()
	assert.Equal(t, "2024-05-01", d.Date)
	assert.Nil(t, d.CustomerID)
	assert.Empty(t, d.Lines)
	assert.Equal(t, StateIdle, f.composer.State())
	assert.Equal(t, "0.00", f.composer.Total().String())
	assert.Equal(t, "draft-1", f.composer.ID())
}

func TestNew_GeneratesID(t *testing.T) {
	a := New(nil, nil, nil)
	b := New(nil, nil, nil)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestComposer_Load(t *testing.T) {
	t.Run("loads both catalogs", func(t *testing.T) {
		f := loaded(t)

		view := f.composer.View()
		assert.Equal(t, []domain.Product{widget, gadget}, view.Products)
		assert.Equal(t, []domain.Customer{alice}, view.Customers)
		assert.Empty(t, view.CatalogErrors)
		f.products.AssertExpectations(t)
		f.customers.AssertExpectations(t)
	})

	t.Run("product catalog failure leaves the composer usable", func(t *testing.T) {
		f := newFixture(t)
		f.products.On("ListProducts", mock.Anything).Return(nil, errors.New("connection refused"))
		f.customers.On("ListCustomers", mock.Anything).Return([]domain.Customer{alice}, nil)

		err := f.composer.Load(context.Background())

		var loadErr *CatalogLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, CatalogProducts, loadErr.Catalog)

		view := f.composer.View()
		assert.Empty(t, view.Products)
		assert.Equal(t, []domain.Customer{alice}, view.Customers)
		assert.Equal(t, map[string]string{CatalogProducts: "connection refused"}, view.CatalogErrors)

		require.NoError(t, f.composer.SetQuantity(1, 3))
		assert.Equal(t, "0.00", f.composer.Total().String())
		assert.Empty(t, f.composer.Total().Missing)
	})

	t.Run("both catalogs failing reports both", func(t *testing.T) {
		f := newFixture(t)
		f.products.On("ListProducts", mock.Anything).Return(nil, errors.New("products down"))
		f.customers.On("ListCustomers", mock.Anything).Return(nil, errors.New("customers down"))

		err := f.composer.Load(context.Background())

		require.Error(t, err)
		assert.ErrorContains(t, err, "products down")
		assert.ErrorContains(t, err, "customers down")
		assert.Len(t, f.composer.View().CatalogErrors, 2)
	})

	t.Run("late catalogs are dropped after close", func(t *testing.T) {
		f := newFixture(t)
		release := make(chan struct{})
		f.products.On("ListProducts", mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return([]domain.Product{widget}, nil)
		f.customers.On("ListCustomers", mock.Anything).Return([]domain.Customer{alice}, nil)

		done := make(chan error, 1)
		go func() { done <- f.composer.Load(context.Background()) }()

		f.composer.Close()
		close(release)

		assert.ErrorIs(t, <-done, ErrComposerClosed)
		assert.Empty(t, f.composer.View().Products)
	})
}

func TestComposer_SetLineQuantity(t *testing.T) {
	t.Run("coerces bad input to zero", func(t *testing.T) {
		f := loaded(t)

		got, err := f.composer.SetLineQuantity(1, "abc")
		require.NoError(t, err)
		assert.Equal(t, 0, got)
		assert.Equal(t, 0, f.composer.Draft().Quantity(1))

		got, err = f.composer.SetLineQuantity(2, "-5")
		require.NoError(t, err)
		assert.Equal(t, 0, got)
		assert.Equal(t, 0, f.composer.Draft().Quantity(2))
	})

	t.Run("negative int is coerced", func(t *testing.T) {
		f := loaded(t)

		require.NoError(t, f.composer.SetQuantity(1, -5))

		assert.Equal(t, 0, f.composer.Draft().Quantity(1))
	})

	t.Run("keeps zero quantity lines", func(t *testing.T) {
		f := loaded(t)

		_, err := f.composer.SetLineQuantity(2, "0")
		require.NoError(t, err)

		assert.Equal(t, []domain.OrderLine{{ProductID: 2, Quantity: 0}}, f.composer.Draft().Lines)
	})

	t.Run("is idempotent", func(t *testing.T) {
		once := loaded(t)
		_, err := once.composer.SetLineQuantity(1, "3")
		require.NoError(t, err)

		twice := loaded(t)
		_, err = twice.composer.SetLineQuantity(1, "3")
		require.NoError(t, err)
		_, err = twice.composer.SetLineQuantity(1, "3")
		require.NoError(t, err)

		assert.Equal(t, once.composer.Draft(), twice.composer.Draft())
		assert.Equal(t, once.composer.Total(), twice.composer.Total())
		assert.Equal(t, 3, twice.composer.Draft().Quantity(1))
	})

	t.Run("overwrites instead of accumulating", func(t *testing.T) {
		f := loaded(t)

		require.NoError(t, f.composer.SetQuantity(1, 3))
		require.NoError(t, f.composer.SetQuantity(1, 5))

		assert.Equal(t, []domain.OrderLine{{ProductID: 1, Quantity: 5}}, f.composer.Draft().Lines)
		assert.Equal(t, "50.00", f.composer.Total().String())
	})

	t.Run("rejects products outside the loaded catalog", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))

		_, err := f.composer.SetLineQuantity(999, "4")
		require.ErrorIs(t, err, ErrUnknownProduct)
		assert.Empty(t, f.composer.Draft().Lines)

		_, err = f.composer.Submit(context.Background())

		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, ValidationErrors{FieldProducts: "at least one product required"}, verrs)
		f.sink.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("line for a removed product stays editable", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetQuantity(2, 4))
		f.products.On("ListProducts", mock.Anything).Return([]domain.Product{widget}, nil).Once()
		require.NoError(t, f.composer.RefreshProducts(context.Background()))

		require.NoError(t, f.composer.SetQuantity(2, 1))

		assert.Equal(t, 1, f.composer.Draft().Quantity(2))
	})

	t.Run("recomputes the total", func(t *testing.T) {
		f := loaded(t)

		_, err := f.composer.SetLineQuantity(1, "3")
		require.NoError(t, err)
		_, err = f.composer.SetLineQuantity(2, "0")
		require.NoError(t, err)

		assert.Equal(t, "30.00", f.composer.Total().String())
		assert.Equal(t, "30.00", f.composer.View().Total)
	})
}

func TestComposer_Validate(t *testing.T) {
	ready := func(t *testing.T) *fixture {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 3))
		return f
	}

	t.Run("valid draft", func(t *testing.T) {
		f := ready(t)

		assert.Empty(t, f.composer.Validate())
	})

	t.Run("date cleared", func(t *testing.T) {
		f := ready(t)
		require.NoError(t, f.composer.SetDate(""))

		assert.Equal(t, ValidationErrors{FieldDate: "date required"}, f.composer.Validate())
	})

	t.Run("customer cleared", func(t *testing.T) {
		f := ready(t)
		require.NoError(t, f.composer.ClearCustomer())

		assert.Equal(t, ValidationErrors{FieldCustomer: "customer required"}, f.composer.Validate())
	})

	t.Run("all quantities zero", func(t *testing.T) {
		f := ready(t)
		require.NoError(t, f.composer.SetQuantity(1, 0))
		require.NoError(t, f.composer.SetQuantity(2, 0))

		assert.Equal(t, ValidationErrors{FieldProducts: "at least one product required"}, f.composer.Validate())
	})

	t.Run("does not change state", func(t *testing.T) {
		f := loaded(t)

		assert.Len(t, f.composer.Validate(), 2)
		assert.Equal(t, StateIdle, f.composer.State())
		assert.Empty(t, f.composer.View().Errors)
	})

	t.Run("past dates are accepted", func(t *testing.T) {
		f := ready(t)
		require.NoError(t, f.composer.SetDate("1999-12-31"))

		assert.Empty(t, f.composer.Validate())
	})
}

func TestComposer_Submit(t *testing.T) {
	t.Run("sends only positive lines and starts a fresh draft", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		_, err := f.composer.SetLineQuantity(1, "3")
		require.NoError(t, err)
		_, err = f.composer.SetLineQuantity(2, "0")
		require.NoError(t, err)

		want := domain.OrderPayload{
			Date:       "2024-05-01",
			CustomerID: 7,
			Products:   []domain.OrderLine{{ProductID: 1, Quantity: 3}},
		}
		f.sink.On("CreateOrder", mock.Anything, want).
			Return(domain.OrderConfirmation{Message: "Order created"}, nil).Once()
		f.publisher.On("PublishOrderSubmitted", mock.Anything, domain.OrderSubmittedEvent{
			DraftID:    "draft-1",
			CustomerID: 7,
			Date:       "2024-05-01",
			Products:   want.Products,
			Total:      "30.00",
			Message:    "Order created",
			Timestamp:  fixedClock(),
		}).Return(nil).Once()

		confirmation, err := f.composer.Submit(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "Order created", confirmation.Message)
		f.sink.AssertExpectations(t)
		f.publisher.AssertExpectations(t)

		view := f.composer.View()
		assert.Equal(t, StateSubmitted, view.State)
		assert.False(t, view.Submitting)
		assert.Equal(t, "Order created", view.Message)
		assert.Nil(t, view.Draft.CustomerID)
		assert.Empty(t, view.Draft.Lines)
		assert.Equal(t, "2024-05-01", view.Draft.Date)
		assert.Equal(t, "0.00", view.Total)
		assert.Equal(t, []domain.Product{widget, gadget}, view.Products)
	})

	t.Run("invalid draft never reaches the sink", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetQuantity(1, 3))

		_, err := f.composer.Submit(context.Background())

		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, ValidationErrors{FieldCustomer: "customer required"}, verrs)
		f.sink.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)

		view := f.composer.View()
		assert.Equal(t, StateIdle, view.State)
		assert.False(t, view.Submitting)
		assert.Equal(t, verrs, view.Errors)
	})

	t.Run("sink failure keeps the draft", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 3))
		before := f.composer.Draft()

		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Return(domain.OrderConfirmation{}, errors.New("backoffice unavailable")).Once()

		_, err := f.composer.Submit(context.Background())

		var submitErr *SubmissionError
		require.ErrorAs(t, err, &submitErr)
		assert.Equal(t, before, f.composer.Draft())
		assert.False(t, f.composer.Submitting())

		view := f.composer.View()
		assert.Equal(t, StateFailed, view.State)
		assert.Equal(t, "backoffice unavailable", view.SubmitError)
		assert.Equal(t, "30.00", view.Total)
		f.publisher.AssertNotCalled(t, "PublishOrderSubmitted", mock.Anything, mock.Anything)
	})

	t.Run("retry after failure", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 3))

		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Return(domain.OrderConfirmation{}, errors.New("timeout")).Once()
		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Return(domain.OrderConfirmation{Message: "ok"}, nil).Once()
		f.publisher.On("PublishOrderSubmitted", mock.Anything, mock.Anything).Return(nil)

		_, err := f.composer.Submit(context.Background())
		require.Error(t, err)

		confirmation, err := f.composer.Submit(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ok", confirmation.Message)
		assert.Empty(t, f.composer.View().SubmitError)
		f.sink.AssertNumberOfCalls(t, "CreateOrder", 2)
	})

	t.Run("publish failure does not fail the submission", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(2, 4))

		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Return(domain.OrderConfirmation{Message: "Order created"}, nil)
		f.publisher.On("PublishOrderSubmitted", mock.Anything, mock.Anything).
			Return(errors.New("broker down"))

		_, err := f.composer.Submit(context.Background())

		require.NoError(t, err)
		assert.Equal(t, StateSubmitted, f.composer.State())
	})

	t.Run("second submit while in flight is rejected", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 1))

		started := make(chan struct{})
		release := make(chan struct{})
		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(domain.OrderConfirmation{Message: "Order created"}, nil).Once()
		f.publisher.On("PublishOrderSubmitted", mock.Anything, mock.Anything).Return(nil)

		done := make(chan error, 1)
		go func() {
			_, err := f.composer.Submit(context.Background())
			done <- err
		}()
		<-started

		assert.True(t, f.composer.Submitting())
		assert.Equal(t, StateSubmitting, f.composer.State())

		_, err := f.composer.Submit(context.Background())
		assert.ErrorIs(t, err, ErrSubmitInFlight)

		close(release)
		require.NoError(t, <-done)
		assert.False(t, f.composer.Submitting())
		f.sink.AssertNumberOfCalls(t, "CreateOrder", 1)
	})

	t.Run("late response after close is ignored", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 1))

		started := make(chan struct{})
		release := make(chan struct{})
		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(domain.OrderConfirmation{Message: "Order created"}, nil).Once()

		done := make(chan error, 1)
		go func() {
			_, err := f.composer.Submit(context.Background())
			done <- err
		}()
		<-started

		f.composer.Close()
		close(release)

		require.NoError(t, <-done)
		view := f.composer.View()
		assert.Empty(t, view.Message)
		assert.NotEqual(t, StateSubmitted, view.State)
		assert.False(t, view.Submitting)
		f.publisher.AssertNotCalled(t, "PublishOrderSubmitted", mock.Anything, mock.Anything)
	})

	t.Run("closed composer rejects submit", func(t *testing.T) {
		f := loaded(t)
		f.composer.Close()

		_, err := f.composer.Submit(context.Background())

		assert.ErrorIs(t, err, ErrComposerClosed)
		f.sink.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})
}

func TestComposer_Dismiss(t *testing.T) {
	t.Run("failed returns to idle", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 1))
		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Return(domain.OrderConfirmation{}, errors.New("boom"))

		_, err := f.composer.Submit(context.Background())
		require.Error(t, err)

		require.NoError(t, f.composer.Dismiss())

		view := f.composer.View()
		assert.Equal(t, StateIdle, view.State)
		assert.Empty(t, view.SubmitError)
		assert.Equal(t, 1, view.Draft.Quantity(1))
	})

	t.Run("next edit also returns to idle", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 1))
		f.sink.On("CreateOrder", mock.Anything, mock.Anything).
			Return(domain.OrderConfirmation{Message: "done"}, nil)
		f.publisher.On("PublishOrderSubmitted", mock.Anything, mock.Anything).Return(nil)

		_, err := f.composer.Submit(context.Background())
		require.NoError(t, err)
		require.Equal(t, StateSubmitted, f.composer.State())

		require.NoError(t, f.composer.SetQuantity(2, 2))

		view := f.composer.View()
		assert.Equal(t, StateIdle, view.State)
		assert.Empty(t, view.Message)
	})

	t.Run("idle stays idle", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.composer.Dismiss())

		assert.Equal(t, StateIdle, f.composer.State())
	})
}

func TestComposer_RefreshProducts(t *testing.T) {
	t.Run("product removed mid-session is excluded and flagged", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetQuantity(1, 3))
		require.NoError(t, f.composer.SetQuantity(2, 4))
		require.Equal(t, "40.00", f.composer.Total().String())

		f.products.On("ListProducts", mock.Anything).Return([]domain.Product{widget}, nil).Once()

		require.NoError(t, f.composer.RefreshProducts(context.Background()))

		total := f.composer.Total()
		assert.Equal(t, "30.00", total.String())
		assert.Equal(t, []int64{2}, total.Missing)
		assert.Equal(t, []int64{2}, f.composer.View().MissingProducts)
	})

	t.Run("price change is picked up", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetQuantity(1, 3))

		f.products.On("ListProducts", mock.Anything).
			Return([]domain.Product{product(1, "Widget", "12.25"), gadget}, nil).Once()

		require.NoError(t, f.composer.RefreshProducts(context.Background()))

		assert.Equal(t, "36.75", f.composer.Total().String())
	})

	t.Run("removed product is left out of the order and the event", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(1, 3))
		require.NoError(t, f.composer.SetQuantity(2, 4))
		f.products.On("ListProducts", mock.Anything).Return([]domain.Product{widget}, nil).Once()
		require.NoError(t, f.composer.RefreshProducts(context.Background()))

		lines := []domain.OrderLine{{ProductID: 1, Quantity: 3}}
		f.sink.On("CreateOrder", mock.Anything, domain.OrderPayload{Date: "2024-05-01", CustomerID: 7, Products: lines}).
			Return(domain.OrderConfirmation{Message: "Order created"}, nil).Once()
		f.publisher.On("PublishOrderSubmitted", mock.Anything, mock.MatchedBy(func(e domain.OrderSubmittedEvent) bool {
			return e.Total == "30.00" && assert.ObjectsAreEqual(lines, e.Products)
		})).Return(nil).Once()

		_, err := f.composer.Submit(context.Background())

		require.NoError(t, err)
		f.sink.AssertExpectations(t)
		f.publisher.AssertExpectations(t)
	})

	t.Run("only removed products left fails validation", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetCustomer(7))
		require.NoError(t, f.composer.SetQuantity(2, 4))
		f.products.On("ListProducts", mock.Anything).Return([]domain.Product{widget}, nil).Once()
		require.NoError(t, f.composer.RefreshProducts(context.Background()))

		_, err := f.composer.Submit(context.Background())

		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, ValidationErrors{FieldProducts: "at least one product required"}, verrs)
		f.sink.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("failure empties the catalog", func(t *testing.T) {
		f := loaded(t)
		require.NoError(t, f.composer.SetQuantity(1, 3))

		f.products.On("ListProducts", mock.Anything).Return(nil, errors.New("gone")).Once()

		err := f.composer.RefreshProducts(context.Background())

		var loadErr *CatalogLoadError
		require.ErrorAs(t, err, &loadErr)
		view := f.composer.View()
		assert.Empty(t, view.Products)
		assert.Equal(t, "0.00", view.Total)
		assert.Empty(t, view.MissingProducts)
		assert.Equal(t, 3, view.Draft.Quantity(1))
	})
}

func TestComposer_Close(t *testing.T) {
	f := loaded(t)

	f.composer.Close()
	f.composer.Close()

	assert.ErrorIs(t, f.composer.SetCustomer(7), ErrComposerClosed)
	assert.ErrorIs(t, f.composer.SetDate("2024-01-01"), ErrComposerClosed)
	assert.ErrorIs(t, f.composer.Dismiss(), ErrComposerClosed)
	_, err := f.composer.SetLineQuantity(1, "2")
	assert.ErrorIs(t, err, ErrComposerClosed)
	assert.ErrorIs(t, f.composer.RefreshProducts(context.Background()), ErrComposerClosed)
}
