package db

import (
	"fmt"

	"octo/internal/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"

	defaultSQLitePath = "octo.db"
)

type Store struct {
	DB   *gorm.DB
	Mode string
}

// NewStore opens Postgres when POSTGRES_DSN is set and falls back to a local SQLite file otherwise.
func NewStore(cfg config.Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PostgresDSN != "" {
		gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.DBMigrate {
			sqlDB, err := gdb.DB()
			if err != nil {
				return nil, err
			}
			if err := MigratePostgres(sqlDB); err != nil {
				return nil, err
			}
			logger.Info("postgres schema migrated")
		}
		return &Store{DB: gdb, Mode: ModePostgres}, nil
	}

	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}
	logger.Info("POSTGRES_DSN not set; using sqlite", zap.String("path", path))
	return OpenSQLite(path)
}

// OpenSQLite opens (and auto-migrates) a SQLite database. Use ":memory:" for tests.
func OpenSQLite(path string) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{DB: gdb, Mode: ModeSQLite}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Repositories bundles every repository backed by this store.
type Repositories struct {
	Nodes  *NodeRepository
	Edges  *EdgeRepository
	Events *EventRepository
	Shares *ShareRepository
	Intake *IntakeRepository
	XRefs  *CrossReferenceRepository
}

func (s *Store) Repositories() Repositories {
	var gdb *gorm.DB
	if s != nil {
		gdb = s.DB
	}
	return Repositories{
		Nodes:  NewNodeRepository(gdb),
		Edges:  NewEdgeRepository(gdb),
		Events: NewEventRepository(gdb),
		Shares: NewShareRepository(gdb),
		Intake: NewIntakeRepository(gdb),
		XRefs:  NewCrossReferenceRepository(gdb),
	}
}
