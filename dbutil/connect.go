package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ts4z/taidi/config"
)

// DB is a database handle that knows which SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

type cloudEnvSettings struct {
	dbUser,
	dbPwd,
	dbName,
	instanceConnectionName,
	usePrivate string
}

func (s *cloudEnvSettings) getenv() error {
	unset := []string{}
	getenv := func(k string) string {
		v := os.Getenv(k)
		if v == "" {
			unset = append(unset, k)
		}
		return v
	}

	s.dbUser = getenv("DB_USER")                                  // e.g. 'my-db-user'
	s.dbPwd = getenv("DB_PASS")                                   // e.g. 'my-db-password'
	s.dbName = getenv("DB_NAME")                                  // e.g. 'my-database'
	s.instanceConnectionName = getenv("INSTANCE_CONNECTION_NAME") // e.g. 'project:region:instance'
	s.usePrivate = os.Getenv("PRIVATE_IP")

	if len(unset) > 0 {
		return fmt.Errorf("cloudsqlconn: unset variables: %+v", unset)
	}
	return nil
}

func connectWithConnector(ctx context.Context) (*DB, error) {
	env := &cloudEnvSettings{}
	if err := env.getenv(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("user=%s password=%s database=%s", env.dbUser, env.dbPwd, env.dbName)
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	var opts []cloudsqlconn.Option
	if env.usePrivate != "" {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	// Each CLI invocation is short-lived; refresh certificates on demand
	// rather than in the background.
	opts = append(opts, cloudsqlconn.WithLazyRefresh())
	d, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return nil, err
	}
	config.DialFunc = func(ctx context.Context, network, instance string) (net.Conn, error) {
		return d.Dial(ctx, env.instanceConnectionName)
	}
	dbURI := stdlib.RegisterConnConfig(config)
	dbPool, err := sql.Open("pgx", dbURI)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	return &DB{DB: dbPool, Dialect: Postgres}, nil
}

func connectWithPgx(ctx context.Context) (*DB, error) {
	url := config.DBURL()
	if url == "" {
		return nil, errors.New("database URL is empty")
	}
	log.Printf("Connecting to postgres database")
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	return &DB{DB: db, Dialect: Postgres}, nil
}

func connectWithSQLite(ctx context.Context) (*DB, error) {
	return OpenSQLite(config.SQLitePath())
}

// OpenSQLite opens a local database file.  The path ":memory:" gives a
// private in-memory database, which is what tests use.
func OpenSQLite(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is empty")
	}
	memory := path == ":memory:"
	if !memory {
		path = filepath.Clean(path)
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// every new connection to :memory: is a new, empty database
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, Dialect: SQLite}, nil
}

// Connect opens the database named by the configuration and checks that it
// answers.
func Connect(ctx context.Context) (*DB, error) {
	factories := map[string]func(context.Context) (*DB, error){
		"connector": connectWithConnector,
		"pgx":       connectWithPgx,
		"sqlite":    connectWithSQLite,
	}
	factory, ok := factories[config.SQLConnector()]
	if !ok {
		return nil, fmt.Errorf("unknown value for sql_connector: %q", config.SQLConnector())
	}
	db, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", db.Dialect, err)
	}
	return db, nil
}
