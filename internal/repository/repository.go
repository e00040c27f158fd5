package repository

import (
	"context"
	"fmt"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	Connection ConnectionRepository
}

// Backends carries the opened database handles. Only the one matching the
// configured driver needs to be set.
type Backends struct {
	Postgres *database.Postgres
	Mongo    *database.Mongo
}

// NewRepositories creates the repositories for driver, sealing tokens with sealer
func NewRepositories(ctx context.Context, cfg config.Config, backends Backends, sealer *utils.TokenSealer) (*Repositories, error) {
	var inner ConnectionRepository

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		if backends.Postgres == nil {
			return nil, fmt.Errorf("postgres store selected without a connection")
		}
		inner = NewConnectionRepository(backends.Postgres)
	case config.StoreDriverMongo:
		if backends.Mongo == nil {
			return nil, fmt.Errorf("mongo store selected without a connection")
		}
		repo := NewMongoConnectionRepository(backends.Mongo, cfg.Mongo.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		inner = repo
	case config.StoreDriverMemory:
		inner = NewMemoryConnectionRepository()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	return &Repositories{
		Connection: NewSealedConnectionRepository(inner, sealer),
	}, nil
}
