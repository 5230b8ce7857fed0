package conn

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Option defines connection options for PostgreSQL.
type Option struct {
	Host       string            `json:"host" yaml:"host"`
	Port       int               `json:"port" yaml:"port"`
	User       string            `json:"user" yaml:"user"`
	Password   string            `json:"password" yaml:"password"`
	Database   string            `json:"database" yaml:"database"`
	SSLMode    string            `json:"sslMode" yaml:"sslMode"`
	Params     map[string]string `json:"params" yaml:"params"`
	ConnString string            `json:"connString" yaml:"connString"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`

	// Conn reuses an opened pool instead of dialing, e.g. a sqlmock connection.
	Conn   *sql.DB      `json:"-" yaml:"-"`
	Config *gorm.Config `json:"-" yaml:"-"`
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New creates a PostgreSQL client from the provided options.
// Unique-key violations are translated to gorm.ErrDuplicatedKey.
func New(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		}
	}

	var dialector gorm.Dialector
	if option.Conn != nil {
		dialector = postgres.New(postgres.Config{Conn: option.Conn})
	} else {
		connString, err := option.dsn()
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(connString)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db")
	}
	if option.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(option.MaxOpenConns)
	}
	if option.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(option.MaxIdleConns)
	}
	if option.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(option.ConnMaxLifetime)
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	if opt.Database == "" {
		return "", errors.New("postgres database name is empty")
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + opt.Database,
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
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
