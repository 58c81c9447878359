package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AuthChallengeResponse struct {
	Payload          string `json:"payload"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

type AuthResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

type DepositInfoResponse struct {
	WalletAddress string `json:"wallet_address"`
	Memo          string `json:"memo"`
	Network       string `json:"network"`
}

type CustodyResponse struct {
	BalanceNano      int64 `json:"balance_nano"`
	ActiveAmountNano int64 `json:"active_amount_nano"`
}
