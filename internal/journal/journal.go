// Package journal persists settled trades to PostgreSQL for later analysis.
// The journal is optional: a nil *Journal accepts appends and drops them.
package journal

import (
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Option defines the PostgreSQL connection options.
type Option struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	User       string            `json:"user"`
	Password   string            `json:"password"`
	Database   string            `json:"database"`
	SSLMode    string            `json:"sslmode"`
	Params     map[string]string `json:"params"`
	ConnString string            `json:"conn_string"`
}

// Trade is one settled contract as recorded in the trades table.
type Trade struct {
	ID            uint `gorm:"primaryKey"`
	ContractID    int64
	Symbol        string
	ContractType  string
	Strategy      string
	Stake         float64
	Profit        float64
	Result        string
	EntrySpot     float64
	ExitSpot      float64
	BalanceAfter  float64
	RecoveryLevel int
	CreatedAt     time.Time
}

// Journal wraps the trades table.
type Journal struct {
	db *gorm.DB
}

// Open connects and migrates the trades table.
func Open(opt Option) (*Journal, error) {
	dsn, err := opt.dsn()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Trade{}); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Append records one settled trade.
func (j *Journal) Append(t Trade) error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Create(&t).Error
}

// Recent returns the latest trades, newest first.
func (j *Journal) Recent(limit int) ([]Trade, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	var out []Trade
	err := j.db.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
