// Config 桥接层：将全局 config.Config 转换为 recordstore 包的运行时实例，
// 消除 config 包和 recordstore 包之间的手动配置映射。

package recordstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/internal/database"
)

// Driver 标识要创建的记录存储后端。
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverMongo    Driver = "mongo"
)

// NewStoreFromConfig 根据全局配置创建 Store。
// 驱动为空字符串时默认使用 sqlite。
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	dbCfg := cfg.Database
	if dbCfg.Driver == "" {
		dbCfg.Driver = string(DriverSQLite)
	}

	switch Driver(dbCfg.Driver) {
	case DriverMongo:
		return NewMongoStore(ctx, MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		}, logger)

	case DriverSQLite, DriverPostgres, DriverMySQL:
		db, err := openGormDB(dbCfg)
		if err != nil {
			return nil, err
		}
		poolCfg := database.PoolConfig{
			MaxIdleConns:    dbCfg.MaxIdleConns,
			MaxOpenConns:    dbCfg.MaxOpenConns,
			ConnMaxLifetime: dbCfg.ConnMaxLifetime,
		}
		return NewGormStore(db, dbCfg.Driver, poolCfg, logger)

	default:
		return nil, fmt.Errorf("unsupported record store driver: %s", dbCfg.Driver)
	}
}

// openGormDB 按驱动选择 dialector 并建立连接
func openGormDB(dbCfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch Driver(dbCfg.Driver) {
	case DriverSQLite:
		dsn := dbCfg.DSN()
		if dsn == "" {
			dsn = "./data/mnemo.db"
		}
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dbCfg.DSN())
	case DriverMySQL:
		dialector = mysql.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported record store driver: %s", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect %s record store: %w", dbCfg.Driver, err)
	}
	return db, nil
}

func ensureSQLiteDir(dsn string) error {
	// 内存库和 file: URI 不建目录
	if strings.Contains(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite data dir: %w", err)
	}
	return nil
}
