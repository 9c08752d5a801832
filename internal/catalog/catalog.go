package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// Customer owns jobs and is contacted about them.
type Customer struct {
	CustomerRef string `json:"customer_ref" validate:"required"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name"`
	Age         *int   `json:"age,omitempty" validate:"omitempty,gte=0,lte=150"`
	Username    string `json:"username"`
	Email       string `json:"email" validate:"omitempty,email"`
	LineID      string `json:"line_id"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

// Product is a repairable item model.
type Product struct {
	ProductRef  string `json:"product_ref" validate:"required"`
	ProductName string `json:"product_name" validate:"required"`
	SKU         string `json:"sku"`
	Pcs         int    `json:"pcs" validate:"gte=0"`
	Category    string `json:"category"`
	Brand       string `json:"brand"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Category groups products.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`
}

// ServiceAccount is a technician or desk login. Its ServiceRef is the actor
// reference recorded on job history and the action ledger.
type ServiceAccount struct {
	ID           int64     `json:"id"`
	ServiceRef   string    `json:"service_ref"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists the reference data around jobs.
type Store interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
	CreateCustomer(ctx context.Context, c Customer) error
	// UpdateCustomer overwrites the customer and, when contact is non-nil,
	// rewrites customer_contact on every job of that customer in the same
	// transaction.
	UpdateCustomer(ctx context.Context, c Customer, contact *string) error

	ListProducts(ctx context.Context) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error

	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, name string) (Category, error)

	CreateServiceAccount(ctx context.Context, a ServiceAccount) (ServiceAccount, error)
	// FindServiceAccount looks an account up by email or service_ref and
	// returns nil when none matches.
	FindServiceAccount(ctx context.Context, identifier string) (*ServiceAccount, error)
}

// Service validates input before handing it to the Store.
type Service struct {
	store   Store
	timeout time.Duration
}

// NewService returns a Service. A non-positive timeout uses
// jobs.DefaultTimeout.
func NewService(store Store, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = jobs.DefaultTimeout
	}
	return &Service{store: store, timeout: timeout}
}

func (s *Service) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	out, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, jobs.Wrap("list customers", err)
	}
	if out == nil {
		out = []Customer{}
	}
	return out, nil
}

func (s *Service) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := jobs.Validate(c); err != nil {
		return Customer{}, err
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return Customer{}, jobs.Wrap("create customer", err)
	}
	return c, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, c Customer, contact *string) (Customer, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := jobs.Validate(c); err != nil {
		return Customer{}, err
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	if err := s.store.UpdateCustomer(ctx, c, contact); err != nil {
		return Customer{}, jobs.Wrap("update customer", err)
	}
	return c, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	out, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, jobs.Wrap("list products", err)
	}
	if out == nil {
		out = []Product{}
	}
	return out, nil
}

func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if err := jobs.Validate(p); err != nil {
		return Product{}, err
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return Product{}, jobs.Wrap("create product", err)
	}
	return p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	if err := jobs.Validate(p); err != nil {
		return Product{}, err
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return Product{}, jobs.Wrap("update product", err)
	}
	return p, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	out, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, jobs.Wrap("list categories", err)
	}
	if out == nil {
		out = []Category{}
	}
	return out, nil
}

func (s *Service) CreateCategory(ctx context.Context, name string) (Category, error) {
	c := Category{Name: strings.TrimSpace(name)}
	if err := jobs.Validate(c); err != nil {
		return Category{}, err
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	out, err := s.store.CreateCategory(ctx, c.Name)
	if err != nil {
		return Category{}, jobs.Wrap("create category", err)
	}
	return out, nil
}
