package httpdto

// SelectRequest is used for POST /flows/:flowId/select
type SelectRequest struct {
	OptionIDs []string `json:"option_ids" binding:"required"`
}

// VerifyRequest is used for POST /flows/:flowId/verify
type VerifyRequest struct {
	Code string `json:"code" binding:"required"`
}
