package database

const CredentialCollectionName = "credentials"

// CredentialDocument is one account in the credentials collection.
type CredentialDocument struct {
	Username string `bson:"username"`
	Password string `bson:"password"`
}
