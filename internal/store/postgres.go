package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"inferd/pkg/types"
)

// inputRow and outputRow are the gorm models behind the postgres backend.
type inputRow struct {
	ID        string `gorm:"primaryKey;size:255"`
	Payload   []byte `gorm:"type:bytea;not null"`
	CreatedAt time.Time
}

func (inputRow) TableName() string { return "invocation_inputs" }

type outputRow struct {
	InputID   string `gorm:"primaryKey;size:255"`
	Payload   []byte `gorm:"type:bytea;not null"`
	CreatedAt time.Time
}

func (outputRow) TableName() string { return "invocation_outputs" }

func inputToRow(in types.ModelInput) inputRow {
	return inputRow{ID: in.ID, Payload: []byte(in.Payload), CreatedAt: in.CreatedAt}
}

func rowToInput(r inputRow) *types.ModelInput {
	return &types.ModelInput{ID: r.ID, Payload: r.Payload, CreatedAt: r.CreatedAt.UTC()}
}

func outputToRow(id string, out types.ModelOutput) outputRow {
	return outputRow{InputID: id, Payload: []byte(out.Payload), CreatedAt: out.CreatedAt}
}

func rowToOutput(r outputRow) *types.ModelOutput {
	return &types.ModelOutput{InputID: r.InputID, Payload: r.Payload, CreatedAt: r.CreatedAt.UTC()}
}

// Postgres stores records through gorm. Tables are created with AutoMigrate
// on Connect.
type Postgres struct {
	dsn string

	mu        sync.RWMutex
	db        *gorm.DB
	connected bool
}

func NewPostgres(dsn string) *Postgres { return &Postgres{dsn: dsn} }

func (p *Postgres) Scheme() string { return "postgres" }

func (p *Postgres) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	db, err := gorm.Open(postgres.Open(p.dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("store: open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("store: postgres connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("store: ping postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&inputRow{}, &outputRow{}); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("store: migrate postgres: %w", err)
	}
	p.db = db
	p.connected = true
	return nil
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	if p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	p.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) Connected() bool {
	db, err := p.conn(context.Background())
	if err != nil {
		return false
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx) == nil
}

func (p *Postgres) conn(ctx context.Context) (*gorm.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected || p.db == nil {
		return nil, ErrNotConnected
	}
	return p.db.WithContext(ctx), nil
}

func upsertOn(col string, cols ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: col}},
		DoUpdates: clause.AssignmentColumns(cols),
	}
}

func (p *Postgres) SaveInput(ctx context.Context, in types.ModelInput) error {
	db, err := p.conn(ctx)
	if err != nil {
		return err
	}
	row := inputToRow(in)
	if err := db.Clauses(upsertOn("id", "payload", "created_at")).Create(&row).Error; err != nil {
		return fmt.Errorf("store: save input %s: %w", in.ID, err)
	}
	return nil
}

func (p *Postgres) SaveOutput(ctx context.Context, in types.ModelInput, out types.ModelOutput) error {
	db, err := p.conn(ctx)
	if err != nil {
		return err
	}
	row := outputToRow(in.ID, out)
	if err := db.Clauses(upsertOn("input_id", "payload", "created_at")).Create(&row).Error; err != nil {
		return fmt.Errorf("store: save output %s: %w", in.ID, err)
	}
	return nil
}

func (p *Postgres) GetInput(ctx context.Context, id string) (*types.ModelInput, error) {
	db, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	var row inputRow
	err = db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get input %s: %w", id, err)
	}
	return rowToInput(row), nil
}

func (p *Postgres) GetOutput(ctx context.Context, id string) (*types.ModelOutput, error) {
	db, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	var row outputRow
	err = db.Where("input_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get output %s: %w", id, err)
	}
	return rowToOutput(row), nil
}
