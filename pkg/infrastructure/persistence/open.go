package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/embedg/embedg/pkg/config"
	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
)

// Stores bundles the repositories of one storage backend.
type Stores struct {
	Provenance    provenance.Repository
	SavedMessages savedmsg.Repository

	ping  func(context.Context) error
	close func(context.Context) error
}

// Ping checks the backend. File stores are always reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend.
func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Open builds the repositories selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (*Stores, error) {
	switch strings.ToLower(cfg.Driver) {
	case "mongo":
		m, err := OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Provenance:    m.Provenance(),
			SavedMessages: m.SavedMessages(),
			ping:          m.Ping,
			close:         m.Close,
		}, nil

	case "sqlite":
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Provenance:    s.Provenance(),
			SavedMessages: s.SavedMessages(),
			ping:          s.Ping,
			close:         func(context.Context) error { return s.Close() },
		}, nil

	case "file":
		prov, err := NewFileProvenanceRepository(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		saved, err := NewFileSavedMessageRepository(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &Stores{Provenance: prov, SavedMessages: saved}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
