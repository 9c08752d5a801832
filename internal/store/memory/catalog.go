package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

func (s *Store) ListCustomers(ctx context.Context) ([]catalog.Customer, error) {
	var out []catalog.Customer
	err := s.read(ctx, func(st *state) error {
		for _, c := range st.customers {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].CustomerRef < out[b].CustomerRef })
	return out, err
}

func (s *Store) CreateCustomer(ctx context.Context, c catalog.Customer) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.customers[c.CustomerRef]; ok {
			return jobs.ErrConflict
		}
		st.customers[c.CustomerRef] = c
		return nil
	})
}

func (s *Store) UpdateCustomer(ctx context.Context, c catalog.Customer, contact *string) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.customers[c.CustomerRef]; !ok {
			return jobs.ErrNotFound
		}
		st.customers[c.CustomerRef] = c
		if contact == nil {
			return nil
		}
		for ref, j := range st.jobs {
			if j.CustomerRef == c.CustomerRef {
				j.CustomerContact = *contact
				st.jobs[ref] = j
			}
		}
		return nil
	})
}

func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	var out []catalog.Product
	err := s.read(ctx, func(st *state) error {
		for _, p := range st.products {
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].ProductRef < out[b].ProductRef })
	return out, err
}

func (s *Store) CreateProduct(ctx context.Context, p catalog.Product) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.products[p.ProductRef]; ok {
			return jobs.ErrConflict
		}
		st.products[p.ProductRef] = p
		return nil
	})
}

func (s *Store) UpdateProduct(ctx context.Context, p catalog.Product) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.products[p.ProductRef]; !ok {
			return jobs.ErrNotFound
		}
		st.products[p.ProductRef] = p
		return nil
	})
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	var out []catalog.Category
	err := s.read(ctx, func(st *state) error {
		out = append(out, st.categories...)
		return nil
	})
	return out, err
}

func (s *Store) CreateCategory(ctx context.Context, name string) (catalog.Category, error) {
	var out catalog.Category
	err := s.write(ctx, func(st *state) error {
		for _, c := range st.categories {
			if strings.EqualFold(c.Name, name) {
				return jobs.ErrConflict
			}
		}
		out = catalog.Category{ID: st.next(), Name: name}
		st.categories = append(st.categories, out)
		return nil
	})
	return out, err
}

func (s *Store) CreateServiceAccount(ctx context.Context, a catalog.ServiceAccount) (catalog.ServiceAccount, error) {
	err := s.write(ctx, func(st *state) error {
		for _, cur := range st.accounts {
			if cur.ServiceRef == a.ServiceRef || strings.EqualFold(cur.Email, a.Email) {
				return jobs.ErrConflict
			}
		}
		a.ID = st.next()
		a.CreatedAt = time.Now().UTC()
		st.accounts = append(st.accounts, a)
		return nil
	})
	return a, err
}

func (s *Store) FindServiceAccount(ctx context.Context, identifier string) (*catalog.ServiceAccount, error) {
	var out *catalog.ServiceAccount
	err := s.read(ctx, func(st *state) error {
		for _, a := range st.accounts {
			if a.ServiceRef == identifier || strings.EqualFold(a.Email, identifier) {
				found := a
				out = &found
				return nil
			}
		}
		return nil
	})
	return out, err
}
