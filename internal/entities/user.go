package entities

// User is the registered account a phone-like subject resolves to.
type User struct {
	ID       string `json:"id"`
	WhatsApp string `json:"whatsapp"`
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role"`
}
