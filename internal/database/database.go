package database

import (
	"fmt"
	"time"

	"alerthub/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

var DB *gorm.DB

// Open connects and migrates the schema without touching the package global.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch config.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			config.User, config.Password, config.Host, config.Port, config.DBName)
		dialector = mysql.Open(dsn)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(config.DBName)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if config.Driver == "sqlite" {
		// sqlite has a single writer; one connection also keeps ":memory:" alive
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		sqlDB.SetMaxIdleConns(50)
		sqlDB.SetMaxOpenConns(200)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.AutoMigrate(
		&models.AlertGroup{},
		&models.AlertEvent{},
		&models.Rule{},
		&models.KBArticle{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// InitDB opens the database and installs it as the package default.
func InitDB(config Config) error {
	db, err := Open(config)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE serializes writers.
func SupportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}

// Seed installs the default rule and KB article when their tables are empty.
func Seed(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Rule{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		rule := models.Rule{
			Name:    "Critical/High -> email oncall",
			Enabled: true,
			Order:   1,
			Conditions: []models.Condition{
				{Path: "severity", Op: "in", Value: []any{"critical", "high"}},
			},
			Actions: []models.Action{
				{"type": "email", "to": []any{"oncall@example.com"}, "subject": "[{{ severity }}] {{ title }}"},
			},
		}
		if err := db.Create(&rule).Error; err != nil {
			return err
		}
	}

	if err := db.Model(&models.KBArticle{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		article := models.KBArticle{
			Title:    "CPU high load",
			Pattern:  `CPU|cpu|HighLoad`,
			Solution: "1) Check top on the host; 2) find the busy process; 3) review recent deploys and jobs; 4) scale out or throttle.",
			Tags:     []string{"cpu", "performance"},
			Enabled:  true,
			Priority: 10,
		}
		if err := db.Create(&article).Error; err != nil {
			return err
		}
	}
	return nil
}

func GetDB() *gorm.DB {
	return DB
}
