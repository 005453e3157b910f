package signature

import "time"

// Queue is where asynchronous signature dispatch jobs are delivered.
// The API also initiates cycles inline; this path serves internal
// producers that don't need the synchronous answer.
const Queue = "signature-requests"

// Job is the queue payload for an asynchronous signature dispatch.
type Job struct {
	ContractID  string `json:"contract_id"`
	OwnerID     string `json:"owner_id"`
	DocumentURL string `json:"document_url"`
	SignerEmail string `json:"signer_email"`
	SignerName  string `json:"signer_name"`
}

// Status of a signature request. signed, declined and superseded are
// terminal; a terminal request never changes again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSent       Status = "sent"
	StatusSigned     Status = "signed"
	StatusDeclined   Status = "declined"
	StatusSuperseded Status = "superseded"
)

func (s Status) Terminal() bool {
	return s == StatusSigned || s == StatusDeclined || s == StatusSuperseded
}

// Request is one signature cycle for a contract. A contract has at most
// one in-flight (pending or sent) request; initiating a new cycle
// supersedes the previous one.
type Request struct {
	ID          string    `json:"id"`
	ContractID  string    `json:"contractId"`
	OwnerID     string    `json:"ownerId"`
	Provider    string    `json:"provider"`
	DocumentURL string    `json:"documentUrl"`
	SignerEmail string    `json:"signerEmail"`
	SignerName  string    `json:"signerName"`
	EnvelopeID  string    `json:"envelopeId,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// mapEvent translates provider callback events into request statuses.
// Unknown events return "" and are ignored by the caller.
func mapEvent(event string) Status {
	switch event {
	case "sent", "delivered":
		return StatusSent
	case "signed", "completed":
		return StatusSigned
	case "declined":
		return StatusDeclined
	case "voided":
		return StatusSuperseded
	default:
		return ""
	}
}
