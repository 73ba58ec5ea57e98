package models

import "github.com/google/uuid"

// Company, Stablecoin, and Network are the minimal rows the contracts
// table references. Their CRUD surface is an external collaborator (§1);
// the core only ever reads them by id via foreign keys on Contract.
type Company struct {
	ID   uuid.UUID `db:"id"`
	Name string    `db:"name"`
}

type Stablecoin struct {
	ID        uuid.UUID `db:"id"`
	CompanyID uuid.UUID `db:"company_id"`
	Ticker    string    `db:"ticker"`
	Name      string    `db:"name"`
}

type Network struct {
	ID   uuid.UUID `db:"id"`
	Name string    `db:"name"`
}
