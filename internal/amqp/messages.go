package amqp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"paytrack/internal/core"
)

// GenerationRequestMessage asks for a generation pass for one user,
// typically published when the user logs in.
type GenerationRequestMessage struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewGenerationRequestMessage creates a request stamped with the current time
func NewGenerationRequestMessage(userID string) *GenerationRequestMessage {
	return &GenerationRequestMessage{
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *GenerationRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GenerationRequestMessageFromJSON creates a message from JSON bytes
func GenerationRequestMessageFromJSON(data []byte) (*GenerationRequestMessage, error) {
	var msg GenerationRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// OccurrenceMessage is the wire form of a generated occurrence.
type OccurrenceMessage struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category,omitempty"`
	DueDate  core.Date       `json:"due_date"`
	Status   core.Status     `json:"status"`
}

// OccurrencesGeneratedMessage carries the rows one definition produced in a pass.
type OccurrencesGeneratedMessage struct {
	UserID       string              `json:"user_id"`
	DefinitionID string              `json:"definition_id"`
	Occurrences  []OccurrenceMessage `json:"occurrences"`
	Timestamp    time.Time           `json:"timestamp"`
}

// NewOccurrencesGeneratedMessage builds an event for rows
func NewOccurrencesGeneratedMessage(userID, definitionID string, rows []core.Occurrence) *OccurrencesGeneratedMessage {
	msg := &OccurrencesGeneratedMessage{
		UserID:       userID,
		DefinitionID: definitionID,
		Occurrences:  make([]OccurrenceMessage, 0, len(rows)),
		Timestamp:    time.Now(),
	}
	for _, o := range rows {
		msg.Occurrences = append(msg.Occurrences, OccurrenceMessage{
			ID:       o.ID,
			Title:    o.Title,
			Amount:   o.Amount,
			Category: o.Category,
			DueDate:  o.DueDate,
			Status:   o.Status,
		})
	}
	return msg
}

// ToOccurrences converts the event back into domain occurrences.
func (m *OccurrencesGeneratedMessage) ToOccurrences() []core.Occurrence {
	out := make([]core.Occurrence, 0, len(m.Occurrences))
	for _, o := range m.Occurrences {
		defID := m.DefinitionID
		out = append(out, core.Occurrence{
			ID:           o.ID,
			DefinitionID: &defID,
			UserID:       m.UserID,
			Title:        o.Title,
			Amount:       o.Amount,
			Category:     o.Category,
			DueDate:      o.DueDate,
			Status:       o.Status,
			CreatedAt:    m.Timestamp,
		})
	}
	return out
}

// ToJSON converts the message to JSON bytes
func (m *OccurrencesGeneratedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccurrencesGeneratedMessageFromJSON creates a message from JSON bytes
func OccurrencesGeneratedMessageFromJSON(data []byte) (*OccurrencesGeneratedMessage, error) {
	var msg OccurrencesGeneratedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
