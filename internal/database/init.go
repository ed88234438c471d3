package database

import (
	"gorm.io/gorm"

	"github.com/customeros/mailbackend/internal/config"
)

func InitDatabase(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := NewConnection(dbConfig)
	if err != nil {
		return nil, err
	}
	return db, nil
}
