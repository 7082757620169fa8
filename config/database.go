package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// UseDB installs an already opened database as the process database.
func UseDB(d *gorm.DB) {
	db = d
}

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for DB; the server must listen on $PORT first.
}

// Dialector picks the gorm driver for DB_DRIVER.
func Dialector(s *Settings) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(s.DBDriver)) {
	case "", "mysql":
		network := "tcp"
		address := fmt.Sprintf("%s:%s", s.DBHost, s.DBPort)
		// Cloud SQL: DB_HOST=/cloudsql/<CONNECTION_NAME> is a unix socket.
		if strings.HasPrefix(s.DBHost, "/cloudsql/") {
			network = "unix"
			address = s.DBHost
		}
		dsn := s.DBDSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
				s.DBUser, s.DBPassword, network, address, s.DBName)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := s.DBDSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				s.DBHost, s.DBPort, s.DBUser, s.DBPassword, s.DBName)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		dsn := s.DBDSN
		if dsn == "" {
			dsn = "file:retail.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", s.DBDriver)
	}
}

// OpenDatabase makes a single connection attempt and installs the plugins.
func OpenDatabase(s *Settings) (*gorm.DB, error) {
	dialector, err := Dialector(s)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, err
	}
	tunePool(conn, s)
	if err := InstallPlugins(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	s := GetSettings()
	var attempt int
	for {
		attempt++
		conn, err := OpenDatabase(s)
		if err == nil {
			db = conn
			log.Printf("connected to database (driver=%s attempt=%d)", s.DBDriver, attempt)
			return
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// InstallPlugins registers SQL tracing and the tenant guard.
func InstallPlugins(conn *gorm.DB) error {
	if err := conn.Use(otelgorm.NewPlugin()); err != nil {
		return fmt.Errorf("install otelgorm plugin: %w", err)
	}
	if err := conn.Use(NewTenantGuardPlugin()); err != nil {
		return fmt.Errorf("install tenant guard plugin: %w", err)
	}
	return nil
}

func tunePool(conn *gorm.DB, s *Settings) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if s.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.DBMaxOpenConns)
	}
	if s.DBMaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(s.DBMaxIdleConns)
	}
	if s.DBConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(s.DBConnMaxLifetime)
	}
	if s.DBConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(s.DBConnMaxIdleTime)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GormConfig is shared by the server, the tools and the tests.
// TranslateError maps driver unique violations to gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		TranslateError: true,
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	level := logger.Error
	if os.Getenv("GORM_LOG") == "info" {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  level,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}
