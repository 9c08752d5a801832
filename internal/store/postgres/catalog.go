package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

const customerCols = `customer_ref, first_name, last_name, age, username, email, line_id, phone, address`

func (s *Store) ListCustomers(ctx context.Context) ([]catalog.Customer, error) {
	rows, err := s.db.Query(ctx, `select `+customerCols+` from customers order by customer_ref`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Customer
	for rows.Next() {
		var c catalog.Customer
		if err := rows.Scan(&c.CustomerRef, &c.FirstName, &c.LastName, &c.Age, &c.Username, &c.Email,
			&c.LineID, &c.Phone, &c.Address); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, c catalog.Customer) error {
	_, err := s.db.Exec(ctx, `insert into customers (`+customerCols+`) values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.CustomerRef, c.FirstName, c.LastName, c.Age, c.Username, c.Email, c.LineID, c.Phone, c.Address)
	return mapErr(err)
}

// UpdateCustomer rewrites the customer row and, when contact is set, the
// denormalized customer_contact of that customer's jobs.
func (s *Store) UpdateCustomer(ctx context.Context, c catalog.Customer, contact *string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return jobs.Wrap("begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	tag, err := tx.Exec(ctx, `update customers set first_name=$2, last_name=$3, age=$4, username=$5, email=$6,
  line_id=$7, phone=$8, address=$9 where customer_ref=$1`,
		c.CustomerRef, c.FirstName, c.LastName, c.Age, c.Username, c.Email, c.LineID, c.Phone, c.Address)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	if contact != nil {
		if _, err := tx.Exec(ctx, `update jobs set customer_contact=$1 where customer_ref=$2`, *contact, c.CustomerRef); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return jobs.Wrap("commit", err)
	}
	return nil
}

const productCols = `product_ref, product_name, sku, pcs, category, brand, description, image`

func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.Query(ctx, `select `+productCols+` from products order by product_ref`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ProductRef, &p.ProductName, &p.SKU, &p.Pcs, &p.Category, &p.Brand,
			&p.Description, &p.Image); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p catalog.Product) error {
	_, err := s.db.Exec(ctx, `insert into products (`+productCols+`) values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ProductRef, p.ProductName, p.SKU, p.Pcs, p.Category, p.Brand, p.Description, p.Image)
	return mapErr(err)
}

func (s *Store) UpdateProduct(ctx context.Context, p catalog.Product) error {
	tag, err := s.db.Exec(ctx, `update products set product_name=$2, sku=$3, pcs=$4, category=$5, brand=$6,
  description=$7, image=$8 where product_ref=$1`,
		p.ProductRef, p.ProductName, p.SKU, p.Pcs, p.Category, p.Brand, p.Description, p.Image)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.Query(ctx, `select id, name from categories order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Category
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, name string) (catalog.Category, error) {
	c := catalog.Category{Name: name}
	err := s.db.QueryRow(ctx, `insert into categories (name) values ($1) returning id`, name).Scan(&c.ID)
	if err != nil {
		return catalog.Category{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) CreateServiceAccount(ctx context.Context, a catalog.ServiceAccount) (catalog.ServiceAccount, error) {
	err := s.db.QueryRow(ctx, `insert into service_accounts (service_ref, email, password_hash, role)
values ($1, $2, $3, $4) returning id, created_at`, a.ServiceRef, a.Email, a.PasswordHash, a.Role).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return catalog.ServiceAccount{}, mapErr(err)
	}
	return a, nil
}

func (s *Store) FindServiceAccount(ctx context.Context, identifier string) (*catalog.ServiceAccount, error) {
	var a catalog.ServiceAccount
	err := s.db.QueryRow(ctx, `select id, service_ref, email, password_hash, role, created_at from service_accounts
where service_ref=$1 or lower(email)=lower($1) limit 1`, identifier).
		Scan(&a.ID, &a.ServiceRef, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
