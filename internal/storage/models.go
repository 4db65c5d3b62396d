package storage

import "database/sql"

// PaymentDefinition is a row of payment_definitions.
type PaymentDefinition struct {
	ID                string
	UserID            string
	Title             string
	Category          string
	Amount            sql.NullString
	RecurrenceType    string
	RecurrenceDay     int64
	RecurrenceMonth   sql.NullInt64
	LastGeneratedDate sql.NullString
	CreatedAt         string
	UpdatedAt         string
}

// Transaction is a row of transactions.
type Transaction struct {
	ID           string
	DefinitionID sql.NullString
	UserID       string
	Title        string
	Amount       string
	Category     string
	DueDate      string
	Status       string
	CreatedAt    string
}
