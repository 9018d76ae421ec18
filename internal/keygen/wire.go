package keygen

// Keygen speaks JSON:API; these mirror only the fields we read or write.

// -------- validate key

type validateKeyRequest struct {
	Meta validateKeyMeta `json:"meta"`
}

type validateKeyMeta struct {
	Key   string            `json:"key"`
	Scope *fingerprintScope `json:"scope,omitempty"`
}

type fingerprintScope struct {
	Fingerprint string `json:"fingerprint"`
}

type validateKeyResponse struct {
	Meta struct {
		Valid  bool   `json:"valid"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Key       string `json:"key"`
			Expiry    string `json:"expiry"`
			Status    string `json:"status"`
			Suspended bool   `json:"suspended"`
		} `json:"attributes"`
	} `json:"data"`
}

// -------- get license

type licenseResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Key       string `json:"key"`
			Expiry    string `json:"expiry"`
			Status    string `json:"status"`
			Suspended bool   `json:"suspended"`
		} `json:"attributes"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}
