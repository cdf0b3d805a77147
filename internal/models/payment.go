package models

// PaymentProof is an uploaded proof-of-payment artifact tied to one slot. It
// exists only on the client until the server accepts or rejects it. The image
// bytes are kept so a failed upload can be retried without reselecting the
// file.
type PaymentProof struct {
	// SlotID is stamped from the active hold at submission; callers leave it
	// empty.
	SlotID        string `json:"slot_id"`
	FileName      string `json:"file_name" validate:"required"`
	Image         []byte `json:"-" validate:"required,min=1"`
	AmountClaimed int64  `json:"amount_claimed" validate:"required,gt=0"`

	State          VerificationState `json:"state"`
	IdempotencyKey string            `json:"idempotency_key"`
}
