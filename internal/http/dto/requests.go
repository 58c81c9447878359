package dto

import (
	"encoding/json"

	"github.com/zkdrop/backend/internal/ton"
)

type AuthVerifyRequest struct {
	ton.ProofData
}

type CreatePurchaseRequest struct {
	Seller      string `json:"seller"`
	ListingID   int64  `json:"listing_id"`
	Description string `json:"description"`
	DeliveryKey string `json:"delivery_key"`
	AmountNano  int64  `json:"amount_nano"`
}

type SubmitProofRequest struct {
	Proof        json.RawMessage `json:"proof"`
	PublicParams json.RawMessage `json:"public_params,omitempty"`
}

type DeliverSecretRequest struct {
	EncryptedSecret string `json:"encrypted_secret"`
}

type DeliverRequest struct {
	MetadataRef string `json:"metadata_ref,omitempty"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"` // refund / cancel
}

type WithdrawRequest struct {
	AmountNano int64 `json:"amount_nano"`
}

type GrantRoleRequest struct {
	Address string `json:"address"`
}

type CreateListingRequest struct {
	PriceNano   int64  `json:"price_nano"`
	MetadataRef string `json:"metadata_ref"`
	Category    string `json:"category,omitempty"`
}
