package domain

// MFAEnrollment is returned when a user begins TOTP enrolment. Nothing is
// persisted at this point - the secret stays pending until the user proves
// possession with a valid code.
type MFAEnrollment struct {
	Secret  string // base32 encoded shared secret
	QRCode  string // otpauth:// provisioning URI for QR rendering
	Issuer  string
	Account string // account label, usually the user's email
}
