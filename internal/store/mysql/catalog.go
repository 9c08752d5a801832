package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

const customerCols = `customer_ref, first_name, last_name, age, username, email, line_id, phone, address`

func (s *Store) ListCustomers(ctx context.Context) ([]catalog.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerCols+` FROM customers ORDER BY customer_ref`)
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO customers (`+customerCols+`) VALUES (`+placeholders(9)+`)`,
		c.CustomerRef, c.FirstName, c.LastName, c.Age, c.Username, c.Email, c.LineID, c.Phone, c.Address)
	return mapErr(err)
}

func (s *Store) UpdateCustomer(ctx context.Context, c catalog.Customer, contact *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM customers WHERE customer_ref = ? FOR UPDATE`, c.CustomerRef).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE customers SET first_name = ?, last_name = ?, age = ?, username = ?, email = ?,
  line_id = ?, phone = ?, address = ? WHERE customer_ref = ?`,
		c.FirstName, c.LastName, c.Age, c.Username, c.Email, c.LineID, c.Phone, c.Address, c.CustomerRef); err != nil {
		return mapErr(err)
	}
	if contact != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET customer_contact = ? WHERE customer_ref = ?`, *contact, c.CustomerRef); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return jobs.Wrap("commit", err)
	}
	return nil
}

const productCols = `product_ref, product_name, sku, pcs, category, brand, description, image`

func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productCols+` FROM products ORDER BY product_ref`)
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (`+productCols+`) VALUES (`+placeholders(8)+`)`,
		p.ProductRef, p.ProductName, p.SKU, p.Pcs, p.Category, p.Brand, p.Description, p.Image)
	return mapErr(err)
}

func (s *Store) UpdateProduct(ctx context.Context, p catalog.Product) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE product_ref = ?`, p.ProductRef).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE products SET product_name = ?, sku = ?, pcs = ?, category = ?, brand = ?,
  description = ?, image = ? WHERE product_ref = ?`,
		p.ProductName, p.SKU, p.Pcs, p.Category, p.Brand, p.Description, p.Image, p.ProductRef)
	return mapErr(err)
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
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
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return catalog.Category{}, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return catalog.Category{}, err
	}
	return catalog.Category{ID: id, Name: name}, nil
}

func (s *Store) CreateServiceAccount(ctx context.Context, a catalog.ServiceAccount) (catalog.ServiceAccount, error) {
	a.CreatedAt = time.Now().UTC().Round(time.Microsecond)
	res, err := s.db.ExecContext(ctx, `INSERT INTO service_accounts (service_ref, email, password_hash, role, created_at)
VALUES (?, ?, ?, ?, ?)`, a.ServiceRef, a.Email, a.PasswordHash, a.Role, a.CreatedAt)
	if err != nil {
		return catalog.ServiceAccount{}, mapErr(err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return catalog.ServiceAccount{}, err
	}
	return a, nil
}

func (s *Store) FindServiceAccount(ctx context.Context, identifier string) (*catalog.ServiceAccount, error) {
	var a catalog.ServiceAccount
	err := s.db.QueryRowContext(ctx, `SELECT id, service_ref, email, password_hash, role, created_at FROM service_accounts
WHERE service_ref = ? OR LOWER(email) = LOWER(?) LIMIT 1`, identifier, identifier).
		Scan(&a.ID, &a.ServiceRef, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
