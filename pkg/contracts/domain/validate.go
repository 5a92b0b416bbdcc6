package domain

// ValidateRequest is the wire request sent by deployed client
// integrations on every page load and heartbeat. Field names are part of
// the stable third-party contract and must not change.
type ValidateRequest struct {
	LicenseKey  string `json:"licenseKey" validate:"required"`
	Domain      string `json:"domain" validate:"required"`
	Tamper      bool   `json:"tamper,omitempty"`
	ClientEmail string `json:"clientEmail,omitempty" validate:"omitempty,email"`
	FileHash    string `json:"fileHash,omitempty"`
}

// ValidateResponse is the wire response. Payload and HeartbeatToken are
// opaque to the caller and only present on success.
type ValidateResponse struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	Status         string `json:"status,omitempty"`
	Payload        string `json:"payload,omitempty"`
	HeartbeatToken string `json:"heartbeatToken,omitempty"`
}
