package api_v1

const (
	// Maximum age, in seconds, of a request timestamp before its signature is rejected as stale.
	MaxTimestampAge = 60.0

	// Length, in bytes, of target signing keys
	KeySize = 32

	RepositoryHeader = "X-Webhook-Repository"
	RunIDHeader      = "X-Webhook-Run-Id"
	TimestampHeader  = "X-Webhook-Timestamp"
	SignatureHeader  = "X-Webhook-Signature"

	// First line of the string to sign.
	SignatureScheme = "Deploy-HMAC-SHA256"

	FailedAuthenticationMsg = "failed authentication"
)
