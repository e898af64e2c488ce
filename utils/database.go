package utils

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Scylla34/generous-givers/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDatabase(host, user, password, dbname string, port int) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	// Only log errors in production, everything else in development
	logLevel := logger.Info
	if os.Getenv("GO_ENV") == "production" {
		logLevel = logger.Error
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			LogLevel: logLevel,
		},
	)

	var err error
	log.Printf("Attempting to connect to database: %s:%d/%s", host, port, dbname)

	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return err
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Failed to get database: %v", err)
		return err
	}

	sqlDB.SetMaxIdleConns(15)
	sqlDB.SetMaxOpenConns(120)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	return nil
}

// MigrateDatabase creates the donation and project tables.
func MigrateDatabase() {
	log.Println("Starting database migration...")
	DB.AutoMigrate(
		&models.Donation{},
		&models.Project{},
	)
	log.Println("Database migration completed successfully!")
}
