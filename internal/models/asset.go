package models

// Role identifies which slot of a try-on a local asset fills.
type Role string

const (
	RolePerson  Role = "person"
	RoleProduct Role = "product"
	RoleResult  Role = "result"
)

// AssetRef points at a media attachment still held by the messaging provider.
type AssetRef struct {
	URL       string `json:"url"`
	MessageID string `json:"message_sid"`
	MediaID   string `json:"media_sid"`
}
