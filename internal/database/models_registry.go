package database

import "fanvault/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.PendingSubmission{},
		&models.Asset{},
	}
}

// TableNames lists the tables PersistentModels creates, in the same order.
func TableNames() []string {
	return []string{
		(models.PendingSubmission{}).TableName(),
		(models.Asset{}).TableName(),
	}
}
