package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/config"
	"github.com/customeros/mailbackend/internal/models"
)

type Repositories struct {
	AccountRepository interfaces.AccountRepository
	StorageFactory    *StorageFactory
}

// InitRepositories wires the Postgres repositories. blobs may be nil, message bodies
// are then kept in the database.
func InitRepositories(db *gorm.DB, blobs interfaces.StorageService) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
		StorageFactory:    NewStorageFactory(db, blobs),
	}
}

// Migrate creates or updates the tables. The pool is limited while migrating and
// reconfigured from dbConfig afterwards.
func Migrate(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Account{},
		&models.LocalFolder{},
		&models.LocalMessage{},
		&models.StorageExtra{},
	)

	if dbConfig != nil {
		if dbConfig.MaxIdleConn > 0 {
			sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
		}
		if dbConfig.MaxConn > 0 {
			sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
		}
		if dbConfig.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)
		}
	}

	return err
}
