package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the directory has no record for a customer id.
var ErrNotFound = errors.New("customer not found")

// Customer is a read-only snapshot of a customer record owned by the
// customer service.
type Customer struct {
	ID        string  `json:"id"`
	Firstname string  `json:"firstname"`
	Lastname  string  `json:"lastname"`
	Email     string  `json:"email"`
	Address   Address `json:"address"`
}

// FullName joins first and last name with a single space.
func (c Customer) FullName() string {
	return c.Firstname + " " + c.Lastname
}

// Address is the postal address attached to a customer.
type Address struct {
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber"`
	ZipCode     string `json:"zipCode"`
}

// Directory resolves customers by id. Implementations return ErrNotFound
// when the customer does not exist.
type Directory interface {
	FindCustomerByID(ctx context.Context, id string) (*Customer, error)
}
