package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zkdrop/backend/internal/escrow"
	"go.uber.org/zap"
)

// IssuerClient talks to the asset issuance service which owns the listing
// registry and mints delivered-asset records.
type IssuerClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewIssuerClient(baseURL string, log *zap.Logger) *IssuerClient {
	return &IssuerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type listingPayload struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	PriceNano   int64  `json:"price_nano"`
	MetadataRef string `json:"metadata_ref"`
	Category    string `json:"category"`
	Active      bool   `json:"active"`
}

func (c *IssuerClient) GetListing(ctx context.Context, listingID int64) (*escrow.Listing, error) {
	url := fmt.Sprintf("%s/listings/%d", c.baseURL, listingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issuer service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, escrow.ErrListingUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("issuer service returned %d: %s", resp.StatusCode, string(b))
	}

	var lp listingPayload
	if err := json.NewDecoder(resp.Body).Decode(&lp); err != nil {
		return nil, err
	}
	return &escrow.Listing{
		ID:          lp.ID,
		Owner:       lp.Owner,
		PriceNano:   lp.PriceNano,
		MetadataRef: lp.MetadataRef,
		Category:    lp.Category,
		Active:      lp.Active,
	}, nil
}

type MintListingInput struct {
	Owner       string `json:"owner"`
	PriceNano   int64  `json:"price_nano"`
	MetadataRef string `json:"metadata_ref"`
	Category    string `json:"category"`
}

// MintListing registers a new listing with the issuer on behalf of a seller.
func (c *IssuerClient) MintListing(ctx context.Context, in MintListingInput) (*escrow.Listing, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/listings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issuer service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("issuer service returned %d: %s", resp.StatusCode, string(b))
	}

	var lp listingPayload
	if err := json.NewDecoder(resp.Body).Decode(&lp); err != nil {
		return nil, err
	}
	return &escrow.Listing{
		ID:          lp.ID,
		Owner:       lp.Owner,
		PriceNano:   lp.PriceNano,
		MetadataRef: lp.MetadataRef,
		Category:    lp.Category,
		Active:      lp.Active,
	}, nil
}

type mintDeliveredRequest struct {
	Buyer       string `json:"buyer"`
	ListingID   int64  `json:"listing_id"`
	MetadataRef string `json:"metadata_ref,omitempty"`
}

type mintDeliveredResponse struct {
	AssetID int64 `json:"asset_id"`
}

// MintDelivered mints the buyer's delivered-asset record for a settled
// purchase. Called inside the delivery transaction; an error here rolls the
// settlement back.
func (c *IssuerClient) MintDelivered(ctx context.Context, buyer string, listingID int64, metadataRef string) (int64, error) {
	body, err := json.Marshal(mintDeliveredRequest{
		Buyer:       buyer,
		ListingID:   listingID,
		MetadataRef: metadataRef,
	})
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/assets/mint", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("issuer service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("issuer service returned %d: %s", resp.StatusCode, string(b))
	}

	var result mintDeliveredResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.AssetID, nil
}

// Deactivate retires a listing after its sale settles.
func (c *IssuerClient) Deactivate(ctx context.Context, listingID int64) error {
	url := fmt.Sprintf("%s/listings/%d/deactivate", c.baseURL, listingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("issuer service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("issuer service returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
